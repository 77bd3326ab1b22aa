package quality

import (
	"math"

	"github.com/pixelrelay/pixelrelay-backend/internal/identity"
	"github.com/pixelrelay/pixelrelay-backend/pkg/enums"
)

// Signals records which identity fields were present when a record was
// scored. It feeds the audit log and the recommendation list.
type Signals struct {
	HasEmail           bool
	HasPhone           bool
	HasFirstName       bool
	HasLastName        bool
	HasGender          bool
	HasBirthDate       bool
	HasCity            bool
	HasState           bool
	HasZip             bool
	HasCountry         bool
	HasExternalID      bool
	HasClientIP        bool
	HasClientUserAgent bool
	HasClickID         bool
	HasBrowserID       bool
	HasSubscriptionID  bool
	HasLoginID         bool
	HasLeadID          bool
}

// Report is the result of evaluating one identity record.
type Report struct {
	Score           int
	ExternalScale   int
	Tier            enums.QualityTier
	MeetsTarget     bool
	Signals         Signals
	Recommendations []string
}

// signalWeight pairs a signal with its score contribution.
type signalWeight struct {
	name    string
	weight  int
	present func(Signals) bool
}

var signalWeights = []signalWeight{
	{"email", 30, func(s Signals) bool { return s.HasEmail }},
	{"phone", 25, func(s Signals) bool { return s.HasPhone }},
	{"external_id", 15, func(s Signals) bool { return s.HasExternalID }},
	{"click_id", 12, func(s Signals) bool { return s.HasClickID }},
	{"login_id", 10, func(s Signals) bool { return s.HasLoginID }},
	{"browser_id", 8, func(s Signals) bool { return s.HasBrowserID }},
	{"first_name", 5, func(s Signals) bool { return s.HasFirstName }},
	{"last_name", 5, func(s Signals) bool { return s.HasLastName }},
	{"lead_id", 5, func(s Signals) bool { return s.HasLeadID }},
	{"birth_date", 4, func(s Signals) bool { return s.HasBirthDate }},
	{"client_ip", 4, func(s Signals) bool { return s.HasClientIP }},
	{"city", 3, func(s Signals) bool { return s.HasCity }},
	{"zip", 3, func(s Signals) bool { return s.HasZip }},
	{"client_user_agent", 3, func(s Signals) bool { return s.HasClientUserAgent }},
	{"subscription_id", 3, func(s Signals) bool { return s.HasSubscriptionID }},
	{"gender", 2, func(s Signals) bool { return s.HasGender }},
	{"state", 2, func(s Signals) bool { return s.HasState }},
	{"country", 2, func(s Signals) bool { return s.HasCountry }},
}

// Scorer computes match-quality scores against a configurable target on the
// external 1-10 scale.
type Scorer struct {
	targetScale int
}

func NewScorer(targetScale int) *Scorer {
	if targetScale < 1 {
		targetScale = 1
	}
	if targetScale > 10 {
		targetScale = 10
	}
	return &Scorer{targetScale: targetScale}
}

// Evaluate scores a record. The internal score is the sum of the weights of
// present signals, clamped to 100; raw sums can exceed 100 when many signals
// are present and the clamp keeps the scale stable.
func (s *Scorer) Evaluate(record identity.Record) Report {
	signals := SignalsFrom(record)

	score := 0
	for _, sw := range signalWeights {
		if sw.present(signals) {
			score += sw.weight
		}
	}
	if score > 100 {
		score = 100
	}

	return Report{
		Score:           score,
		ExternalScale:   ExternalScale(score),
		Tier:            enums.TierForScore(score),
		MeetsTarget:     s.MeetsTarget(score),
		Signals:         signals,
		Recommendations: recommendations(score, signals),
	}
}

// recommendations builds the gap-closing suggestions for a scored record.
// The rules are score-gated so strong records are not nagged about
// low-weight fields; the output order is fixed, highest impact first.
func recommendations(score int, s Signals) []string {
	var recs []string
	if !s.HasEmail || !s.HasPhone {
		recs = append(recs, "capture email or phone; they carry the highest match weight")
	}
	if !s.HasClickID && !s.HasBrowserID {
		recs = append(recs, "enable click and browser cookie capture on the tracking surface")
	}
	if score < 60 && !s.HasExternalID {
		recs = append(recs, "attach a stable external id for known visitors")
	}
	if score < 50 && !s.HasFirstName && !s.HasLastName {
		recs = append(recs, "collect first and last name")
	}
	if score < 40 && !s.HasCity && !s.HasState && !s.HasZip && !s.HasCountry {
		recs = append(recs, "collect geographic fields such as city, zip, and country")
	}
	if !s.HasClientIP {
		recs = append(recs, "forward the client ip address with each event")
	}
	return recs
}

// MeetsTarget reports whether a score reaches the configured target on the
// external scale.
func (s *Scorer) MeetsTarget(score int) bool {
	return ExternalScale(score) >= s.targetScale
}

// ExternalScale maps an internal 0-100 score onto the platform's 1-10 scale.
// Zero still maps to 1; the platform has no zero.
func ExternalScale(score int) int {
	scale := int(math.Ceil(float64(score) / 10))
	if scale < 1 {
		return 1
	}
	if scale > 10 {
		return 10
	}
	return scale
}

// SignalsFrom derives presence flags from a record.
func SignalsFrom(record identity.Record) Signals {
	return Signals{
		HasEmail:           record.Email != "",
		HasPhone:           record.Phone != "",
		HasFirstName:       record.FirstName != "",
		HasLastName:        record.LastName != "",
		HasGender:          record.Gender != "",
		HasBirthDate:       record.BirthDate != "",
		HasCity:            record.City != "",
		HasState:           record.State != "",
		HasZip:             record.Zip != "",
		HasCountry:         record.Country != "",
		HasExternalID:      record.ExternalID != "",
		HasClientIP:        record.ClientIP != "",
		HasClientUserAgent: record.ClientUserAgent != "",
		HasClickID:         record.ClickID != "",
		HasBrowserID:       record.BrowserID != "",
		HasSubscriptionID:  record.SubscriptionID != "",
		HasLoginID:         record.LoginID != "",
		HasLeadID:          record.LeadID != "",
	}
}
