package identity

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestNormalizeHashesKnownVectors(t *testing.T) {
	record := Normalize(map[string]any{
		"email":         "  A@Example.COM ",
		"phone":         "+1 (555) 123-4567",
		"date_of_birth": "1990-01-02",
		"gender":        "Female",
		"city":          "São Paulo",
	}, RequestContext{})

	if record.Email != "08168cd80dfd534ab0f10af10f1303fe00af2d43ab5c1432360d137f8197e17a" {
		t.Errorf("email hash = %s", record.Email)
	}
	if record.Phone != "d6736136ea896c1bfdc553e0e86e702c70d060d805696ca3e4e9e0961353860a" {
		t.Errorf("phone hash = %s", record.Phone)
	}
	if record.BirthDate != "19bb8a164e99b8549f5f5c9e810115de44d02402f68aefe2df61b4fddacfa085" {
		t.Errorf("birth date hash = %s", record.BirthDate)
	}
	if record.Gender != "252f10c83610ebca1a059c0bae8255eba2f95be4d1d7bcfa89d7248a82d9f111" {
		t.Errorf("gender hash = %s", record.Gender)
	}
	if record.City != "8f7f2f7ccd3f2898cf4850905346e8fb333d00aac1c974f8f37326e068cf7b1e" {
		t.Errorf("city hash = %s", record.City)
	}
}

func TestNormalizeIsDeterministic(t *testing.T) {
	raw := map[string]any{
		"em":       "a@example.com",
		"em_multi": []string{"b@example.com", "a@example.com"},
		"ph":       "5551234567",
		"fn":       "Renée",
		"country":  "BR",
	}
	first := Normalize(raw, RequestContext{})
	for i := 0; i < 20; i++ {
		if got := Normalize(raw, RequestContext{}); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs: %+v vs %+v", i, got, first)
		}
	}
}

func TestNormalizeMultiValueOrderAndDedup(t *testing.T) {
	record := Normalize(map[string]any{
		"em":       "a@example.com",
		"em_multi": []any{"B@Example.com", "a@example.com", ""},
	}, RequestContext{})

	want := []string{
		"08168cd80dfd534ab0f10af10f1303fe00af2d43ab5c1432360d137f8197e17a",
		"e8f39b3e1382367d6d41ab34dc270d4e7533f978c9e9a775dfe2185b2f96b96c",
	}
	if !reflect.DeepEqual([]string(record.EmailAll), want) {
		t.Errorf("email all = %v, want %v", record.EmailAll, want)
	}
	if record.Email != want[0] {
		t.Errorf("primary email = %s, want first of multi set", record.Email)
	}
}

func TestNormalizeDropsInvalidValues(t *testing.T) {
	record := Normalize(map[string]any{
		"ph":  "12345",
		"db":  "not-a-date",
		"fbc": "garbage-cookie",
		"fbp": "fb.1.1700000000000.123456789",
	}, RequestContext{ClickID: "also-garbage"})

	if record.Phone != "" {
		t.Errorf("short phone should be dropped, got %s", record.Phone)
	}
	if record.BirthDate != "" {
		t.Errorf("unparseable birth date should be dropped, got %s", record.BirthDate)
	}
	if record.ClickID != "" {
		t.Errorf("malformed fbc should be dropped, got %s", record.ClickID)
	}
	if record.BrowserID != "fb.1.1700000000000.123456789" {
		t.Errorf("well-formed fbp should pass through, got %s", record.BrowserID)
	}
}

func TestNormalizeRequestContextNeverOverrides(t *testing.T) {
	record := Normalize(map[string]any{
		"client_ip_address": "10.0.0.1",
	}, RequestContext{
		ClientIP:        "192.168.0.1",
		ClientUserAgent: "Mozilla/5.0",
		BrowserID:       "fb.1.1700000000000.42",
	})

	if record.ClientIP != "10.0.0.1" {
		t.Errorf("explicit client IP overridden, got %s", record.ClientIP)
	}
	if record.ClientUserAgent != "Mozilla/5.0" {
		t.Errorf("user agent not filled from request, got %s", record.ClientUserAgent)
	}
	if record.BrowserID != "fb.1.1700000000000.42" {
		t.Errorf("browser ID not filled from request, got %s", record.BrowserID)
	}
}

func TestNormalizeOutputCarriesNoRawPII(t *testing.T) {
	record := Normalize(map[string]any{
		"email":      "secret.person@example.com",
		"phone":      "+1 555 987 6543",
		"first_name": "Secret",
		"last_name":  "Person",
	}, RequestContext{})

	encoded, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, leak := range []string{"secret", "Secret", "Person", "987"} {
		if strings.Contains(string(encoded), leak) {
			t.Errorf("raw value %q leaked into %s", leak, encoded)
		}
	}
}

func TestNormalizeBirthDateLayouts(t *testing.T) {
	want := Hash("19900102")
	for _, input := range []string{"19900102", "1990-01-02", "01/02/1990", "1990/01/02"} {
		record := Normalize(map[string]any{"db": input}, RequestContext{})
		if record.BirthDate != want {
			t.Errorf("layout %q: got %s", input, record.BirthDate)
		}
	}
}

func TestRecordIsEmpty(t *testing.T) {
	if !(Record{}).IsEmpty() {
		t.Error("zero record should be empty")
	}
	if (Record{ClientIP: "1.2.3.4"}).IsEmpty() {
		t.Error("record with client IP should not be empty")
	}
}
