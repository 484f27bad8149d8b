package reconcile

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// ValueType is the closed set of destination value types. Each variant has
// exactly one validator, dispatched through valueTypeValidators.
type ValueType string

const (
	TypeText                  ValueType = "TEXT"
	TypeLongText              ValueType = "LONG_TEXT"
	TypeLetter                ValueType = "LETTER"
	TypePhoneNumber           ValueType = "PHONE_NUMBER"
	TypeEmail                 ValueType = "EMAIL"
	TypeBoolean               ValueType = "BOOLEAN"
	TypeTrueOnly              ValueType = "TRUE_ONLY"
	TypeDate                  ValueType = "DATE"
	TypeDateTime              ValueType = "DATETIME"
	TypeTime                  ValueType = "TIME"
	TypeNumber                ValueType = "NUMBER"
	TypeUnitInterval          ValueType = "UNIT_INTERVAL"
	TypePercentage            ValueType = "PERCENTAGE"
	TypeInteger               ValueType = "INTEGER"
	TypeIntegerPositive       ValueType = "INTEGER_POSITIVE"
	TypeIntegerNegative       ValueType = "INTEGER_NEGATIVE"
	TypeIntegerZeroOrPositive ValueType = "INTEGER_ZERO_OR_POSITIVE"
	TypeTrackerAssociate      ValueType = "TRACKER_ASSOCIATE"
	TypeUsername              ValueType = "USERNAME"
	TypeCoordinate            ValueType = "COORDINATE"
	TypeOrganisationUnit      ValueType = "ORGANISATION_UNIT"
	TypeReference             ValueType = "REFERENCE"
	TypeURL                   ValueType = "URL"
	TypeFileResource          ValueType = "FILE_RESOURCE"
	TypeImage                 ValueType = "IMAGE"
	TypeGeoJSON               ValueType = "GEOJSON"
	TypeMultiText             ValueType = "MULTI_TEXT"
)

// isDate reports whether values of this type are calendar dates, and so must
// be normalized to YYYY-MM-DD before entering a composite key.
func (vt ValueType) isDate() bool {
	return vt == TypeDate || vt == TypeDateTime
}

var (
	uidPattern      = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9]{10}$`)
	emailPattern    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern    = regexp.MustCompile(`^\+?[0-9() .\-]{4,50}$`)
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._@\-]{1,255}$`)
	timePattern     = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9](:[0-5][0-9])?$`)
)

type validatorFunc func(string) error

// valueTypeValidators dispatches validation per value type. Types without an
// entry accept any non-empty value.
var valueTypeValidators = map[ValueType]validatorFunc{
	TypeText:                  validateText,
	TypeLongText:              func(string) error { return nil },
	TypeLetter:                validateLetter,
	TypePhoneNumber:           validatePhone,
	TypeEmail:                 validateEmail,
	TypeBoolean:               validateBoolean,
	TypeTrueOnly:              validateTrueOnly,
	TypeDate:                  validateDate,
	TypeDateTime:              validateDateTime,
	TypeTime:                  validateTime,
	TypeNumber:                validateNumber,
	TypeUnitInterval:          validateUnitInterval,
	TypePercentage:            validatePercentage,
	TypeInteger:               validateInteger,
	TypeIntegerPositive:       validateIntegerPositive,
	TypeIntegerNegative:       validateIntegerNegative,
	TypeIntegerZeroOrPositive: validateIntegerZeroOrPositive,
	TypeTrackerAssociate:      validateUID,
	TypeUsername:              validateUsername,
	TypeCoordinate:            validateCoordinate,
	TypeOrganisationUnit:      validateUID,
	TypeReference:             validateUID,
	TypeURL:                   validateURL,
	TypeFileResource:          validateUID,
	TypeImage:                 validateUID,
	TypeGeoJSON:               validateGeoJSON,
	TypeMultiText:             func(string) error { return nil },
}

// Validate checks a raw value against the acceptance rules for its declared
// type. Unknown types accept anything, mirroring the destination's lenient
// handling of types it has no rule for.
func Validate(vt ValueType, value string) error {
	validator, ok := valueTypeValidators[vt]
	if !ok {
		return nil
	}
	return validator(value)
}

func validateText(v string) error {
	if utf8.RuneCountInString(v) > 50000 {
		return fmt.Errorf("text exceeds 50000 characters")
	}
	return nil
}

func validateLetter(v string) error {
	r := []rune(v)
	if len(r) != 1 || !unicode.IsLetter(r[0]) {
		return fmt.Errorf("value is not a single letter")
	}
	return nil
}

func validatePhone(v string) error {
	if !phonePattern.MatchString(v) {
		return fmt.Errorf("value is not a valid phone number")
	}
	return nil
}

func validateEmail(v string) error {
	if !emailPattern.MatchString(v) {
		return fmt.Errorf("value is not a valid email address")
	}
	return nil
}

func validateBoolean(v string) error {
	switch strings.ToLower(v) {
	case "true", "false":
		return nil
	}
	return fmt.Errorf("value is not true or false")
}

func validateTrueOnly(v string) error {
	if !strings.EqualFold(v, "true") {
		return fmt.Errorf("value must be true")
	}
	return nil
}

func validateDate(v string) error {
	candidate := v
	if len(candidate) > 10 {
		candidate = candidate[:10]
	}
	if _, err := time.Parse("2006-01-02", candidate); err != nil {
		return fmt.Errorf("value is not a valid YYYY-MM-DD date")
	}
	return nil
}

func validateDateTime(v string) error {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04:05"} {
		if _, err := time.Parse(layout, v); err == nil {
			return nil
		}
	}
	return fmt.Errorf("value is not a valid datetime")
}

func validateTime(v string) error {
	if !timePattern.MatchString(v) {
		return fmt.Errorf("value is not a valid HH:MM time")
	}
	return nil
}

func validateNumber(v string) error {
	if _, err := strconv.ParseFloat(v, 64); err != nil {
		return fmt.Errorf("value is not a number")
	}
	return nil
}

func validateUnitInterval(v string) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 || f > 1 {
		return fmt.Errorf("value is not a number between 0 and 1")
	}
	return nil
}

func validatePercentage(v string) error {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > 100 {
		return fmt.Errorf("value is not an integer between 0 and 100")
	}
	return nil
}

func validateInteger(v string) error {
	if _, err := strconv.ParseInt(v, 10, 64); err != nil {
		return fmt.Errorf("value is not an integer")
	}
	return nil
}

func validateIntegerPositive(v string) error {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return fmt.Errorf("value is not a positive integer")
	}
	return nil
}

func validateIntegerNegative(v string) error {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n >= 0 {
		return fmt.Errorf("value is not a negative integer")
	}
	return nil
}

func validateIntegerZeroOrPositive(v string) error {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return fmt.Errorf("value is not a non-negative integer")
	}
	return nil
}

func validateUID(v string) error {
	if !uidPattern.MatchString(v) {
		return fmt.Errorf("value is not an 11-character identifier")
	}
	return nil
}

func validateUsername(v string) error {
	if !usernamePattern.MatchString(v) {
		return fmt.Errorf("value is not a valid username")
	}
	return nil
}

// validateCoordinate accepts "lon,lat" pairs, optionally wrapped in JSON
// array brackets, within geographic bounds.
func validateCoordinate(v string) error {
	s := strings.TrimSpace(v)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return fmt.Errorf("value is not a lon,lat coordinate pair")
	}
	lon, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lat, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil || lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return fmt.Errorf("value is not a lon,lat coordinate pair")
	}
	return nil
}

func validateURL(v string) error {
	u, err := url.Parse(v)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("value is not a valid http(s) url")
	}
	return nil
}

func validateGeoJSON(v string) error {
	var g struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal([]byte(v), &g); err != nil || g.Type == "" || len(g.Coordinates) == 0 {
		return fmt.Errorf("value is not a valid geojson geometry")
	}
	return nil
}
