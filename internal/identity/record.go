package identity

// Record is the canonical, hashed representation of a person for matching
// purposes. Hashed fields hold the lowercase-trimmed-then-SHA256 form of the
// raw input; raw PII never survives past Normalize. Operational fields
// (client IP, user agent, cookie IDs) are carried unhashed.
//
// A Record is built once per incoming event and treated as immutable; the
// enrichment step returns a replacement rather than mutating in place.
// The JSON tags are the short codes the attribution API expects.
type Record struct {
	Email      string `json:"em,omitempty"`
	Phone      string `json:"ph,omitempty"`
	FirstName  string `json:"fn,omitempty"`
	LastName   string `json:"ln,omitempty"`
	Gender     string `json:"ge,omitempty"`
	BirthDate  string `json:"db,omitempty"`
	City       string `json:"ct,omitempty"`
	State      string `json:"st,omitempty"`
	Zip        string `json:"zp,omitempty"`
	Country    string `json:"country,omitempty"`
	ExternalID string `json:"external_id,omitempty"`

	EmailAll []string `json:"em_multi,omitempty"`
	PhoneAll []string `json:"ph_multi,omitempty"`

	// PhoneDigits holds the normalized primary phone before hashing. It is
	// never serialized; enrichment uses it for country-prefix inference.
	PhoneDigits string `json:"-"`

	ClientIP        string `json:"client_ip_address,omitempty"`
	ClientUserAgent string `json:"client_user_agent,omitempty"`
	ClickID         string `json:"fbc,omitempty"`
	BrowserID       string `json:"fbp,omitempty"`
	SubscriptionID  string `json:"subscription_id,omitempty"`
	LoginID         string `json:"fb_login_id,omitempty"`
	LeadID          string `json:"lead_id,omitempty"`
}

// IsEmpty reports whether the record carries no identity signal at all.
func (r Record) IsEmpty() bool {
	return r.Email == "" && r.Phone == "" && r.FirstName == "" &&
		r.LastName == "" && r.Gender == "" && r.BirthDate == "" && r.City == "" &&
		r.State == "" && r.Zip == "" && r.Country == "" && r.ExternalID == "" &&
		len(r.EmailAll) == 0 && len(r.PhoneAll) == 0 && r.ClientIP == "" &&
		r.ClientUserAgent == "" && r.ClickID == "" && r.BrowserID == "" &&
		r.SubscriptionID == "" && r.LoginID == "" && r.LeadID == ""
}
