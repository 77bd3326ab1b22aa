package enums

// EnrichmentSource tags where an enriched identity field came from.
type EnrichmentSource string

const (
	EnrichmentSourceProfile     EnrichmentSource = "profile"
	EnrichmentSourceIPGeo       EnrichmentSource = "ip_geo"
	EnrichmentSourcePhonePrefix EnrichmentSource = "phone_prefix"
)
