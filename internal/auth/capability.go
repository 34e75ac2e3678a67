package auth

import "fmt"

// Capability is one entry of a role's capability vector.
type Capability string

const (
	ViewOrgBillingIDs    Capability = "view_org_billing_ids"
	ViewClientBillingIDs Capability = "view_client_billing_ids"
	EditClientData       Capability = "edit_client_data"
	Schedule             Capability = "schedule"
	ManageStaff          Capability = "manage_staff"
	ViewBilling          Capability = "view_billing"
	ManageAuthorizations Capability = "manage_authorizations"
)

// Capabilities is the fixed boolean vector attached to a role.
type Capabilities struct {
	ViewOrgBillingIDs    bool `json:"view_org_billing_ids"`
	ViewClientBillingIDs bool `json:"view_client_billing_ids"`
	EditClientData       bool `json:"edit_client_data"`
	Schedule             bool `json:"schedule"`
	ManageStaff          bool `json:"manage_staff"`
	ViewBilling          bool `json:"view_billing"`
	ManageAuthorizations bool `json:"manage_authorizations"`
}

func (c Capabilities) Has(capability Capability) bool {
	switch capability {
	case ViewOrgBillingIDs:
		return c.ViewOrgBillingIDs
	case ViewClientBillingIDs:
		return c.ViewClientBillingIDs
	case EditClientData:
		return c.EditClientData
	case Schedule:
		return c.Schedule
	case ManageStaff:
		return c.ManageStaff
	case ViewBilling:
		return c.ViewBilling
	case ManageAuthorizations:
		return c.ManageAuthorizations
	default:
		return false
	}
}

type Role string

const (
	RoleNone              Role = ""
	RoleAdministrator     Role = "administrator"
	RoleSupervisor        Role = "supervisor"
	RoleBillingSpecialist Role = "billing_specialist"
	RoleCaseManager       Role = "case_manager"
	RoleDirectSupport     Role = "direct_support"
	RoleOfficeManager     Role = "office_manager"
)

var roleCapabilities = map[Role]Capabilities{
	RoleAdministrator: {
		ViewOrgBillingIDs:    true,
		ViewClientBillingIDs: true,
		EditClientData:       true,
		Schedule:             true,
		ManageStaff:          true,
		ViewBilling:          true,
		ManageAuthorizations: true,
	},
	RoleSupervisor: {
		ViewClientBillingIDs: true,
		EditClientData:       true,
		Schedule:             true,
		ViewBilling:          true,
		ManageAuthorizations: true,
	},
	RoleBillingSpecialist: {
		ViewOrgBillingIDs:    true,
		ViewClientBillingIDs: true,
		ViewBilling:          true,
	},
	RoleCaseManager: {
		EditClientData: true,
		Schedule:       true,
	},
	RoleDirectSupport: {
		Schedule: true,
	},
	RoleOfficeManager: {
		EditClientData: true,
		Schedule:       true,
		ManageStaff:    true,
	},
}

// CapabilitiesFor returns the vector for role; unknown roles get nothing.
func CapabilitiesFor(role Role) Capabilities {
	return roleCapabilities[role]
}

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := roleCapabilities[r]; !ok {
		return RoleNone, fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Roles lists every assignable role.
func Roles() []Role {
	return []Role{
		RoleAdministrator,
		RoleSupervisor,
		RoleBillingSpecialist,
		RoleCaseManager,
		RoleDirectSupport,
		RoleOfficeManager,
	}
}
