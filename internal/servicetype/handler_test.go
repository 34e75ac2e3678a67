package servicetype_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	serviceTypeDatamodel "github.com/dydact/scrive-aci-sub002/internal/core/datamodel/servicetype"
	"github.com/dydact/scrive-aci-sub002/internal/servicetype"
	serviceTypePostgres "github.com/dydact/scrive-aci-sub002/internal/servicetype/postgres"
	"github.com/dydact/scrive-aci-sub002/internal/store/storetest"
	"github.com/dydact/scrive-aci-sub002/internal/transport"
)

var _ = Describe("Service Type Handler Integration", func() {
	var (
		db      *gorm.DB
		handler *servicetype.Handler
	)

	BeforeEach(func() {
		var err error
		db, err = storetest.Open(&serviceTypeDatamodel.ServiceType{})
		Expect(err).NotTo(HaveOccurred())

		slogger := slog.New(slog.NewTextHandler(io.Discard, nil))
		repo := serviceTypePostgres.NewServiceTypeRepository(db)
		service := servicetype.NewService(repo, slogger)
		handler = servicetype.NewHandler(transport.NewBaseHandler(slogger), service)

		for _, st := range []*servicetype.ServiceType{
			servicetype.NewServiceType("W1727", "IISS", "Intensive individual support", 2500),
			servicetype.NewServiceType("W1728", "Respite", "Respite care", 1800),
		} {
			Expect(db.Create(servicetype.ToDataModel(st)).Error).To(Succeed())
		}
		Expect(db.Model(&serviceTypeDatamodel.ServiceType{}).Where("code = ?", "W1728").Update("is_active", false).Error).To(Succeed())
	})

	AfterEach(func() {
		Expect(storetest.Close(db)).To(Succeed())
	})

	It("returns active service types in the envelope", func() {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/service_types", nil)
		rec := httptest.NewRecorder()

		handler.GetServiceTypes(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		var body struct {
			Success bool                             `json:"success"`
			Message string                           `json:"message"`
			Data    servicetype.ServiceTypesResponse `json:"data"`
		}
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body.Success).To(BeTrue())
		Expect(body.Data.ServiceTypes).To(HaveLen(1))
		Expect(body.Data.ServiceTypes[0].Code).To(Equal("W1727"))
	})
})
