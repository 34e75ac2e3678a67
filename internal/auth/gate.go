package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dydact/scrive-aci-sub002/internal"
	"github.com/dydact/scrive-aci-sub002/internal/audit"
	"github.com/dydact/scrive-aci-sub002/internal/store"
)

const ActionPermissionCheck = "permission.check"
const ActionRoleGranted = "role.granted"

type RoleRepository interface {
	// ActiveAssignment returns nil when the user has no active role.
	ActiveAssignment(ctx context.Context, userID int64) (*RoleAssignment, error)
	Deactivate(ctx context.Context, userID int64, at time.Time) error
	Create(ctx context.Context, assignment *RoleAssignment) error
}

// Gate is the single place capability decisions are made. Every decision is
// written to the audit log, granted or not.
type Gate struct {
	repo   RoleRepository
	tx     store.Runner
	audit  audit.Recorder
	logger *slog.Logger
	now    func() time.Time
}

func NewGate(repo RoleRepository, tx store.Runner, recorder audit.Recorder, logger *slog.Logger) *Gate {
	return &Gate{
		repo:   repo,
		tx:     tx,
		audit:  recorder,
		logger: logger,
		now:    time.Now,
	}
}

// Can reports whether userID holds capability.
func (g *Gate) Can(ctx context.Context, userID int64, capability Capability) bool {
	return g.decide(ctx, userID, "", capability)
}

// CanOn is Can for a check made on behalf of a specific resource; the
// decision is audited against it.
func (g *Gate) CanOn(ctx context.Context, userID int64, capability Capability, resource string) bool {
	return g.decide(ctx, userID, resource, capability)
}

// Require returns Forbidden(capability) unless the actor holds it.
func (g *Gate) Require(ctx context.Context, actor internal.Actor, capability Capability, resource string) error {
	if !g.decide(ctx, actor.UserID, resource, capability) {
		return internal.NewForbiddenError(string(capability), resource)
	}
	return nil
}

// RequireAny passes when the actor holds at least one of capabilities.
func (g *Gate) RequireAny(ctx context.Context, actor internal.Actor, resource string, capabilities ...Capability) error {
	if g.decide(ctx, actor.UserID, resource, capabilities...) {
		return nil
	}
	names := make([]string, len(capabilities))
	for i, c := range capabilities {
		names[i] = string(c)
	}
	return internal.NewForbiddenError(strings.Join(names, "|"), resource)
}

func (g *Gate) decide(ctx context.Context, userID int64, resource string, capabilities ...Capability) bool {
	role := g.roleOf(ctx, userID)
	caps := CapabilitiesFor(role)

	granted := false
	for _, c := range capabilities {
		if caps.Has(c) {
			granted = true
			break
		}
	}

	result := audit.ResultDenied
	if granted {
		result = audit.ResultGranted
	}
	names := make([]string, len(capabilities))
	for i, c := range capabilities {
		names[i] = string(c)
	}
	g.audit.Record(ctx, audit.Entry{
		ActorID:  userID,
		Action:   ActionPermissionCheck,
		Resource: resource,
		Result:   result,
		Detail: map[string]any{
			"capability": strings.Join(names, "|"),
			"role":       string(role),
		},
	})

	if !granted {
		g.logger.Warn("permission denied",
			"user_id", userID,
			"role", role,
			"capability", names,
			"resource", resource)
	}
	return granted
}

// roleOf fails closed: a lookup error means no capabilities.
func (g *Gate) roleOf(ctx context.Context, userID int64) Role {
	if userID <= 0 {
		return RoleNone
	}
	assignment, err := g.repo.ActiveAssignment(ctx, userID)
	if err != nil {
		g.logger.Error("role lookup failed", "user_id", userID, "error", err)
		return RoleNone
	}
	if assignment == nil {
		return RoleNone
	}
	return assignment.Role
}

// Capabilities describes the caller's own role.
func (g *Gate) Capabilities(ctx context.Context, userID int64) (*CapabilityView, error) {
	assignment, err := g.repo.ActiveAssignment(ctx, userID)
	if err != nil {
		return nil, internal.NewInternalError("failed to load role", err)
	}
	view := &CapabilityView{UserID: userID}
	if assignment != nil {
		view.Role = assignment.Role
		view.Capabilities = CapabilitiesFor(assignment.Role)
	}
	return view, nil
}

// AssignRole replaces the user's active role. The previous assignment is
// kept with revoked_at set so the history of grants stays queryable.
func (g *Gate) AssignRole(ctx context.Context, actor internal.Actor, dto AssignRoleDTO) (*RoleAssignment, error) {
	resource := fmt.Sprintf("user:%d", dto.UserID)
	if err := g.Require(ctx, actor, ManageStaff, resource); err != nil {
		return nil, err
	}
	if dto.UserID <= 0 {
		return nil, internal.NewValidationFieldError("user_id", "user_id is required", internal.ErrCodeValidationFailed)
	}
	role, err := ParseRole(dto.Role)
	if err != nil {
		return nil, internal.NewValidationFieldError("role", err.Error(), internal.ErrCodeValidationFailed)
	}

	now := g.now().UTC()
	assignment := &RoleAssignment{
		UserID:    dto.UserID,
		Role:      role,
		Active:    true,
		GrantedBy: actor.UserID,
		GrantedAt: now,
	}

	err = g.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := g.repo.Deactivate(ctx, dto.UserID, now); err != nil {
			return err
		}
		assignment.ID = 0
		return g.repo.Create(ctx, assignment)
	})
	if err != nil {
		if _, ok := internal.IsAppError(err); ok {
			return nil, err
		}
		g.logger.Error("failed to assign role", "user_id", dto.UserID, "role", role, "error", err)
		return nil, internal.NewInternalError("failed to assign role", err)
	}

	g.audit.Record(ctx, audit.Entry{
		ActorID:  actor.UserID,
		Action:   ActionRoleGranted,
		Resource: resource,
		Result:   audit.ResultSuccess,
		Detail: map[string]any{
			"role":       string(role),
			"granted_at": now.Format(time.RFC3339),
		},
	})

	g.logger.Info("role assigned",
		"user_id", dto.UserID,
		"role", role,
		"granted_by", actor.UserID)

	return assignment, nil
}
