package quality

import (
	"reflect"
	"testing"

	"github.com/pixelrelay/pixelrelay-backend/internal/identity"
	"github.com/pixelrelay/pixelrelay-backend/pkg/enums"
)

func TestEvaluateEmailOnly(t *testing.T) {
	scorer := NewScorer(8)
	report := scorer.Evaluate(identity.Record{Email: "hash"})

	if report.Score != 30 {
		t.Errorf("score = %d, want 30", report.Score)
	}
	if report.ExternalScale != 3 {
		t.Errorf("external scale = %d, want 3", report.ExternalScale)
	}
	if report.Tier != enums.QualityTierFair {
		t.Errorf("tier = %s, want fair", report.Tier)
	}
	if scorer.MeetsTarget(report.Score) {
		t.Error("email-only record should not meet target 8")
	}
}

func TestEvaluateEmailAndPhone(t *testing.T) {
	report := NewScorer(8).Evaluate(identity.Record{Email: "h1", Phone: "h2"})
	if report.Score != 55 {
		t.Errorf("score = %d, want 55", report.Score)
	}
}

func TestEvaluateClampsAt100(t *testing.T) {
	full := identity.Record{
		Email: "h", Phone: "h", FirstName: "h", LastName: "h", Gender: "h",
		BirthDate: "h", City: "h", State: "h", Zip: "h", Country: "h",
		ExternalID: "h", ClientIP: "1.2.3.4", ClientUserAgent: "ua",
		ClickID: "fbc", BrowserID: "fbp", SubscriptionID: "s", LoginID: "l",
		LeadID: "ld",
	}
	report := NewScorer(8).Evaluate(full)
	if report.Score != 100 {
		t.Errorf("score = %d, want 100", report.Score)
	}
	if report.ExternalScale != 10 {
		t.Errorf("external scale = %d, want 10", report.ExternalScale)
	}
	if report.Tier != enums.QualityTierExcellent {
		t.Errorf("tier = %s, want excellent", report.Tier)
	}
	if len(report.Recommendations) != 0 {
		t.Errorf("full record should have no recommendations, got %v", report.Recommendations)
	}
}

func TestEvaluateEmptyRecord(t *testing.T) {
	report := NewScorer(8).Evaluate(identity.Record{})
	if report.Score != 0 {
		t.Errorf("score = %d, want 0", report.Score)
	}
	if report.ExternalScale != 1 {
		t.Errorf("external scale = %d, want 1", report.ExternalScale)
	}
	if report.Tier != enums.QualityTierPoor {
		t.Errorf("tier = %s, want poor", report.Tier)
	}
}

func TestRecommendationsForWeakRecord(t *testing.T) {
	report := NewScorer(8).Evaluate(identity.Record{Email: "h"})
	want := []string{
		"capture email or phone; they carry the highest match weight",
		"enable click and browser cookie capture on the tracking surface",
		"attach a stable external id for known visitors",
		"collect first and last name",
		"collect geographic fields such as city, zip, and country",
		"forward the client ip address with each event",
	}
	if !reflect.DeepEqual(report.Recommendations, want) {
		t.Errorf("recommendations = %v, want %v", report.Recommendations, want)
	}
}

func TestRecommendationsAreScoreGated(t *testing.T) {
	// email+phone+external_id+click_id+login_id scores 92; a record this
	// strong should only be asked for what is always worth forwarding.
	strong := identity.Record{
		Email: "h", Phone: "h", ExternalID: "ext", ClickID: "fbc", LoginID: "l",
	}
	report := NewScorer(8).Evaluate(strong)
	want := []string{"forward the client ip address with each event"}
	if !reflect.DeepEqual(report.Recommendations, want) {
		t.Errorf("recommendations = %v, want only the client ip nudge", report.Recommendations)
	}

	// email+phone scores 55: above the name gate, below the external id gate.
	report = NewScorer(8).Evaluate(identity.Record{Email: "h", Phone: "h"})
	want = []string{
		"enable click and browser cookie capture on the tracking surface",
		"attach a stable external id for known visitors",
		"forward the client ip address with each event",
	}
	if !reflect.DeepEqual(report.Recommendations, want) {
		t.Errorf("recommendations = %v, want %v", report.Recommendations, want)
	}
}

func TestEvaluateSetsMeetsTarget(t *testing.T) {
	record := identity.Record{Email: "h"} // score 30, scale 3
	if report := NewScorer(3).Evaluate(record); !report.MeetsTarget {
		t.Error("scale 3 should meet target 3")
	}
	if report := NewScorer(8).Evaluate(record); report.MeetsTarget {
		t.Error("scale 3 should not meet target 8")
	}
}

func TestExternalScaleBoundaries(t *testing.T) {
	cases := []struct{ score, want int }{
		{0, 1}, {1, 1}, {10, 1}, {11, 2}, {79, 8}, {80, 8}, {81, 9}, {100, 10},
	}
	for _, tc := range cases {
		if got := ExternalScale(tc.score); got != tc.want {
			t.Errorf("ExternalScale(%d) = %d, want %d", tc.score, got, tc.want)
		}
	}
}

func TestMeetsTargetUsesExternalScale(t *testing.T) {
	scorer := NewScorer(8)
	if scorer.MeetsTarget(70) {
		t.Error("70 maps to scale 7, below target 8")
	}
	if !scorer.MeetsTarget(71) {
		t.Error("71 maps to scale 8, should meet target")
	}
}
