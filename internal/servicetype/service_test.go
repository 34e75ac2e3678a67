package servicetype_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dydact/scrive-aci-sub002/internal"
	serviceTypeDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/servicetype"
	"github.com/dydact/scrive-aci-sub002/internal/servicetype"
)

func TestServiceType(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Service Type Suite")
}

// MockRepository implements servicetype.RepositoryAPI for testing
type MockRepository struct {
	rows       map[int64]*serviceTypeDatamodel.ServiceType
	nextID     int64
	shouldFail bool
	failError  error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{rows: make(map[int64]*serviceTypeDatamodel.ServiceType)}
}

func (m *MockRepository) GetAll(context.Context) ([]*serviceTypeDatamodel.ServiceType, error) {
	if m.shouldFail {
		return nil, m.failError
	}
	var out []*serviceTypeDatamodel.ServiceType
	for id := int64(1); id <= m.nextID; id++ {
		if row, ok := m.rows[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *MockRepository) GetByID(_ context.Context, id int64) (*serviceTypeDatamodel.ServiceType, error) {
	if m.shouldFail {
		return nil, m.failError
	}
	return m.rows[id], nil
}

func (m *MockRepository) GetByCode(_ context.Context, code string) (*serviceTypeDatamodel.ServiceType, error) {
	if m.shouldFail {
		return nil, m.failError
	}
	for _, row := range m.rows {
		if row.Code == code {
			return row, nil
		}
	}
	return nil, nil
}

func (m *MockRepository) Create(_ context.Context, row *serviceTypeDatamodel.ServiceType) error {
	if m.shouldFail {
		return m.failError
	}
	m.nextID++
	row.ID = m.nextID
	m.rows[row.ID] = row
	return nil
}

func (m *MockRepository) Update(_ context.Context, row *serviceTypeDatamodel.ServiceType) error {
	if m.shouldFail {
		return m.failError
	}
	m.rows[row.ID] = row
	return nil
}

var _ = Describe("Service", func() {
	var (
		repo    *MockRepository
		service *servicetype.Service
		ctx     context.Context
	)

	BeforeEach(func() {
		repo = NewMockRepository()
		service = servicetype.NewService(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
		ctx = context.Background()

		Expect(repo.Create(ctx, servicetype.ToDataModel(servicetype.NewServiceType("W1727", "IISS", "Intensive individual support", 2500)))).To(Succeed())
		inactive := servicetype.NewServiceType("W9999", "Retired", "", 100)
		inactive.Deactivate()
		Expect(repo.Create(ctx, servicetype.ToDataModel(inactive))).To(Succeed())
	})

	It("lists only active service types", func() {
		list, err := service.GetAllServiceTypes(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(HaveLen(1))
		Expect(list[0].Code).To(Equal("W1727"))
		Expect(list[0].UnitRateCents).To(Equal(int64(2500)))
	})

	It("treats inactive service types as missing", func() {
		_, err := service.Lookup(ctx, 2)
		Expect(errors.Is(err, internal.ErrServiceTypeNotFound)).To(BeTrue())
		Expect(service.IsValidServiceType(ctx, 2)).To(BeFalse())
		Expect(service.IsValidServiceType(ctx, 1)).To(BeTrue())
	})

	It("maps codes for inactive service types too", func() {
		codes, err := service.Codes(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(codes).To(Equal(map[int64]string{1: "W1727", 2: "W9999"}))
	})

	It("wraps repository failures as internal errors", func() {
		repo.shouldFail = true
		repo.failError = errors.New("db down")

		_, err := service.GetAllServiceTypes(ctx)
		appErr, ok := internal.IsAppError(err)
		Expect(ok).To(BeTrue())
		Expect(appErr.Type).To(Equal(internal.ErrorTypeInternal))
	})

	It("upserts by code", func() {
		st, err := service.Upsert(ctx, servicetype.NewServiceType("W1727", "IISS", "updated", 2600))
		Expect(err).NotTo(HaveOccurred())
		Expect(st.ID).To(Equal(int64(1)))
		Expect(st.UnitRateCents).To(Equal(int64(2600)))

		st, err = service.Upsert(ctx, servicetype.NewServiceType("W1728", "Respite", "", 1800))
		Expect(err).NotTo(HaveOccurred())
		Expect(st.ID).To(Equal(int64(3)))
	})
})
