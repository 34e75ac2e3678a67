package servicetype

type ServiceTypeResponse struct {
	ID            int64  `json:"id"`
	Code          string `json:"code"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	UnitRateCents int64  `json:"unit_rate_cents"`
}

type ServiceTypesResponse struct {
	ServiceTypes []ServiceTypeResponse `json:"service_types"`
}
