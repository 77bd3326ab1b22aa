package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RequestContext carries the operational fields captured from the submitting
// request rather than the user-data map. None of these are hashed.
type RequestContext struct {
	ClientIP        string
	ClientUserAgent string
	ClickID         string
	BrowserID       string
}

// Long-form aliases accepted alongside the short codes in the raw user-data map.
var fieldAliases = map[string]string{
	"email":         "em",
	"phone":         "ph",
	"first_name":    "fn",
	"last_name":     "ln",
	"gender":        "ge",
	"date_of_birth": "db",
	"city":          "ct",
	"state":         "st",
	"zip":           "zp",
	"zip_code":      "zp",
	"postal_code":   "zp",
	"country_code":  "country",
}

var (
	nonDigitRe = regexp.MustCompile(`\D+`)
	// fbc/fbp cookies look like fb.<subdomainIndex>.<creationTime>.<value>.
	cookieIDRe = regexp.MustCompile(`^fb\.[0-9]+\.[0-9]+\..+$`)
)

var birthDateLayouts = []string{"20060102", "2006-01-02", "01/02/2006", "2006/01/02"}

// Normalize canonicalizes and hashes a raw user-data map into a Record.
// Fields absent or empty after normalization are omitted, never hashed-empty.
// Malformed operational values (cookie IDs) are dropped rather than rejected;
// Normalize never fails the request and is deterministic for a given input.
func Normalize(raw map[string]any, reqCtx RequestContext) Record {
	fields := canonicalize(raw)
	record := Record{}

	record.Email, record.EmailAll = normalizeMulti(fields["em"], fields["em_multi"], normalizeEmail)
	record.Phone, record.PhoneAll = normalizeMulti(fields["ph"], fields["ph_multi"], normalizePhone)
	record.PhoneDigits = firstPhoneDigits(append(fields["ph"], fields["ph_multi"]...))

	record.FirstName = hashNormalized(first(fields["fn"]), normalizeName)
	record.LastName = hashNormalized(first(fields["ln"]), normalizeName)
	record.Gender = hashNormalized(first(fields["ge"]), normalizeGender)
	record.BirthDate = hashNormalized(first(fields["db"]), normalizeBirthDate)
	record.City = hashNormalized(first(fields["ct"]), normalizePlace)
	record.State = hashNormalized(first(fields["st"]), normalizePlace)
	record.Zip = hashNormalized(first(fields["zp"]), normalizeZip)
	record.Country = hashNormalized(first(fields["country"]), normalizePlace)
	record.ExternalID = hashNormalized(first(fields["external_id"]), normalizeGeneric)

	record.ClientIP = strings.TrimSpace(first(fields["client_ip_address"]))
	record.ClientUserAgent = strings.TrimSpace(first(fields["client_user_agent"]))
	record.ClickID = validCookieID(first(fields["fbc"]))
	record.BrowserID = validCookieID(first(fields["fbp"]))
	record.SubscriptionID = strings.TrimSpace(first(fields["subscription_id"]))
	record.LoginID = strings.TrimSpace(first(fields["fb_login_id"]))
	record.LeadID = strings.TrimSpace(first(fields["lead_id"]))

	// Request context never overrides explicit user-data values.
	if record.ClientIP == "" {
		record.ClientIP = strings.TrimSpace(reqCtx.ClientIP)
	}
	if record.ClientUserAgent == "" {
		record.ClientUserAgent = strings.TrimSpace(reqCtx.ClientUserAgent)
	}
	if record.ClickID == "" {
		record.ClickID = validCookieID(reqCtx.ClickID)
	}
	if record.BrowserID == "" {
		record.BrowserID = validCookieID(reqCtx.BrowserID)
	}

	return record
}

// canonicalize resolves aliases into short codes and flattens values into
// string slices, keeping the caller's value order per field.
func canonicalize(raw map[string]any) map[string][]string {
	fields := make(map[string][]string, len(raw))
	for key, value := range raw {
		code := strings.ToLower(strings.TrimSpace(key))
		if mapped, ok := fieldAliases[code]; ok {
			code = mapped
		}
		fields[code] = append(fields[code], allStrings(value)...)
	}
	return fields
}

// Hash returns the lowercase hex SHA-256 digest used for every hashed field.
func Hash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func hashNormalized(value string, normalize func(string) string) string {
	cleaned := normalize(value)
	if cleaned == "" {
		return ""
	}
	return Hash(cleaned)
}

// normalizeMulti merges the singular field with its *_multi variant. Every
// value is normalized and hashed independently; duplicates are removed but
// first-appearance order is preserved because scoring consumers treat the
// first value as the primary.
func normalizeMulti(primary, multi []string, normalize func(string) string) (string, []string) {
	var hashes []string
	for _, raw := range append(append([]string{}, primary...), multi...) {
		hashed := hashNormalized(raw, normalize)
		if hashed == "" || contains(hashes, hashed) {
			continue
		}
		hashes = append(hashes, hashed)
	}
	if len(hashes) == 0 {
		return "", nil
	}
	return hashes[0], hashes
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// normalizePhone strips everything but digits and validates an E.164-like
// shape (7-15 digits). Shorter or longer runs are dropped.
func normalizePhone(value string) string {
	digits := nonDigitRe.ReplaceAllString(strings.TrimSpace(value), "")
	if len(digits) < 7 || len(digits) > 15 {
		return ""
	}
	return digits
}

func firstPhoneDigits(values []string) string {
	for _, raw := range values {
		if digits := normalizePhone(raw); digits != "" {
			return digits
		}
	}
	return ""
}

func normalizeName(value string) string {
	return stripDiacritics(strings.ToLower(strings.TrimSpace(value)))
}

// normalizeGender collapses to a single lowercase letter.
func normalizeGender(value string) string {
	cleaned := strings.ToLower(strings.TrimSpace(value))
	if cleaned == "" {
		return ""
	}
	return cleaned[:1]
}

func normalizeBirthDate(value string) string {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return ""
	}
	for _, layout := range birthDateLayouts {
		if parsed, err := time.Parse(layout, cleaned); err == nil {
			return parsed.Format("20060102")
		}
	}
	return ""
}

// normalizePlace lowercases, strips diacritics, and keeps letters only, which
// is the shape the attribution platform hashes city/state/country against.
func normalizePlace(value string) string {
	folded := stripDiacritics(strings.ToLower(strings.TrimSpace(value)))
	var b strings.Builder
	for _, r := range folded {
		if unicode.IsLetter(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func normalizeZip(value string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), " ", "")
}

func normalizeGeneric(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func stripDiacritics(value string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, value)
	if err != nil {
		return value
	}
	return out
}

func validCookieID(value string) string {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" || !cookieIDRe.MatchString(cleaned) {
		return ""
	}
	return cleaned
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func allStrings(value any) []string {
	switch v := value.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	case nil:
		return nil
	default:
		return []string{fmt.Sprintf("%v", v)}
	}
}

func contains(values []string, value string) bool {
	for _, item := range values {
		if item == value {
			return true
		}
	}
	return false
}
