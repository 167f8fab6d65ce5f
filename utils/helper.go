package utils

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"
)

func ProcessValidationErrors(err error) map[string]string {
	errorResponse := make(map[string]string)

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		errorResponse["error"] = err.Error()
		return errorResponse
	}
	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}
	return errorResponse
}

// FormatPhoneNumber renders phone in international format for the given region.
// Unparseable or invalid numbers are returned trimmed but otherwise unchanged.
func FormatPhoneNumber(phone, countryCode string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}
	p, err := libphonenumber.Parse(phone, strings.ToUpper(strings.TrimSpace(countryCode)))
	if err != nil || !libphonenumber.IsValidNumber(p) {
		return phone
	}
	return libphonenumber.Format(p, libphonenumber.INTERNATIONAL)
}

// ParseDecimal converts a string to a decimal.Decimal value.
func ParseDecimal(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, errors.New("empty decimal string")
	}
	return decimal.NewFromString(value)
}

// FormatAmount renders a money amount with two decimals, or the raw text when it is not numeric.
func FormatAmount(value string) string {
	dec, err := ParseDecimal(value)
	if err != nil {
		if strings.TrimSpace(value) == "" {
			return "0.00"
		}
		return value
	}
	return dec.StringFixed(2)
}

// TruncateRunes cuts s to at most n runes.
func TruncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
