// Package validation implements the strict schema-first checks applied to
// every inbound activity-data submission, CSV row, and account request
// before it is allowed to reach storage or the event bus.
package validation

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/carbonledger/platform/internal/app/domain/carbon"
)

// Severity classifies how serious an issue is; "error" issues block
// acceptance, "warning" issues are recorded but do not.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue describes one field-level validation failure.
type Issue struct {
	Code     string   `json:"code"`
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Result collects every issue raised against a single submission.
type Result struct {
	Issues []Issue `json:"issues"`
}

// OK reports whether no error-severity issue was raised.
func (r Result) OK() bool {
	for _, i := range r.Issues {
		if i.Severity == SeverityError {
			return false
		}
	}
	return true
}

func (r *Result) add(code, field, message string, sev Severity) {
	r.Issues = append(r.Issues, Issue{Code: code, Field: field, Message: message, Severity: sev})
}

// Messages flattens every error-severity issue into "field: message" strings,
// the shape the HTTP layer surfaces in a 422 response body.
func (r Result) Messages() []string {
	var out []string
	for _, i := range r.Issues {
		if i.Severity != SeverityError {
			continue
		}
		out = append(out, fmt.Sprintf("%s: %s", i.Field, i.Message))
	}
	return out
}

func (r *Result) fail(code, field, message string) {
	r.add(code, field, message, SeverityError)
}

// knownActivityTypes and knownUnits mirror the closed vocabularies the
// ingestion pipeline accepts; anything else is a validation error rather
// than a provider error.
var knownActivityTypes = map[carbon.ActivityType]struct{}{
	carbon.ActivityElectricity: {},
	carbon.ActivityNaturalGas:  {},
	carbon.ActivityDieselFuel:  {},
}

var energyUnits = map[string]struct{}{"kWh": {}, "MWh": {}, "GJ": {}, "Wh": {}}
var volumeUnits = map[string]struct{}{"l": {}, "m3": {}, "gal": {}, "bbl": {}}

var validUnitsByActivity = map[carbon.ActivityType]map[string]struct{}{
	carbon.ActivityElectricity: energyUnits,
	carbon.ActivityNaturalGas:  volumeUnits,
	carbon.ActivityDieselFuel:  volumeUnits,
}

// ActivityInput is the set of fields validated for a single activity-data
// submission, whether it arrived via the JSON API or a CSV row.
type ActivityInput struct {
	ActivityType  carbon.ActivityType
	Quantity      float64
	Unit          string
	StartDate     time.Time
	EndDate       time.Time
	SurfaceAreaM2 *float64
	CostTRY       *float64
}

// ValidateActivity applies every invariant from the activity-data schema:
// positive quantity, a closed activity/unit vocabulary with units scoped to
// the activity's measurement kind, a start-before-or-equal-to-end date range
// that never extends past today, and non-negative optional cost/area fields.
func ValidateActivity(in ActivityInput) Result {
	var res Result

	if _, ok := knownActivityTypes[in.ActivityType]; !ok {
		res.fail("unknown_activity_type", "activity_type", fmt.Sprintf("unrecognised activity type %q", in.ActivityType))
	}

	if in.Quantity <= 0 {
		res.fail("quantity_not_positive", "quantity", "quantity must be positive (miktar pozitif olmalıdır)")
	}

	if strings.TrimSpace(in.Unit) == "" {
		res.fail("unit_missing", "unit", "unit is required")
	} else if allowed, ok := validUnitsByActivity[in.ActivityType]; ok {
		if _, unitOK := allowed[in.Unit]; !unitOK {
			res.fail("unit_not_allowed", "unit", fmt.Sprintf("unit %q is not valid for activity type %q", in.Unit, in.ActivityType))
		}
	}

	if in.StartDate.After(in.EndDate) {
		res.fail("date_range_invalid", "start_date", "start_date must not be after end_date")
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	if in.EndDate.After(today) {
		res.fail("end_date_in_future", "end_date", "end_date must not be later than today")
	}

	if in.SurfaceAreaM2 != nil && *in.SurfaceAreaM2 <= 0 {
		res.fail("surface_area_not_positive", "surface_area_m2", "surface_area_m2 must be greater than zero when present")
	}
	if in.CostTRY != nil && *in.CostTRY < 0 {
		res.fail("cost_negative", "cost_try", "cost_try must not be negative")
	}

	return res
}

// RegistrationInput is validated before a new user account is created.
type RegistrationInput struct {
	Email    string
	Password string
}

// ValidateRegistration checks the two invariants the account schema
// enforces: a parseable email address and a password between 8 and 72
// characters, the upper bound matching bcrypt's input limit.
func ValidateRegistration(in RegistrationInput) Result {
	var res Result
	if _, err := mail.ParseAddress(in.Email); err != nil {
		res.fail("email_invalid", "email", "email is not a valid address")
	}
	if l := len(in.Password); l < 8 || l > 72 {
		res.fail("password_length", "password", "password must be between 8 and 72 characters")
	}
	return res
}

// CSVHeader is the single accepted header row for bulk activity-data
// uploads, matched verbatim including field order.
var CSVHeader = []string{"aktivite_tipi", "miktar", "birim", "baslangic_tarihi", "bitis_tarihi"}

// activitySynonyms maps source-language activity labels onto the closed
// ActivityType vocabulary used internally.
var activitySynonyms = map[string]carbon.ActivityType{
	"elektrik":    carbon.ActivityElectricity,
	"electricity": carbon.ActivityElectricity,
	"dogalgaz":    carbon.ActivityNaturalGas,
	"doğalgaz":    carbon.ActivityNaturalGas,
	"natural_gas": carbon.ActivityNaturalGas,
	"mazot":       carbon.ActivityDieselFuel,
	"dizel":       carbon.ActivityDieselFuel,
	"diesel":      carbon.ActivityDieselFuel,
	"diesel_fuel": carbon.ActivityDieselFuel,
}

// ResolveActivityType maps a raw CSV/OCR token (case-insensitive, possibly
// in Turkish) onto the closed activity vocabulary.
func ResolveActivityType(raw string) (carbon.ActivityType, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	kind, ok := activitySynonyms[key]
	return kind, ok
}

// ParseQuantity accepts both comma and dot as the decimal separator, the two
// conventions CSV exports from local accounting tools mix interchangeably.
func ParseQuantity(raw string) (float64, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	var value float64
	if _, err := fmt.Sscanf(cleaned, "%g", &value); err != nil {
		return 0, fmt.Errorf("cannot parse quantity %q", raw)
	}
	return value, nil
}

// ParseCSVDate parses the single accepted date layout, YYYY-MM-DD.
func ParseCSVDate(raw string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", raw)
	}
	return t, nil
}
