// Package validate holds the form rules shared by the directory and booking
// commands. A rule returns "" when the value passes, otherwise a message code.
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	CodeRequired         = "FORM_FIELDS_REQUIRED"
	CodeEmailFormat      = "EMAIL_INVALID_FORMAT"
	CodePhoneFormat      = "PHONE_INVALID_FORMAT"
	CodeDNIFormat        = "DNI_INVALID_FORMAT"
	CodePasswordLength   = "PASSWORD_LENGTH"
	CodePasswordMismatch = "PASSWORDS_DO_NOT_MATCH"
	CodeAcceptedLength   = "ACCEPTED_LENGTH"

	MinPasswordLength = 6
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^\+?\d{7,15}$`)
	dniPatterns  = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^[0-9]{8}[A-Z]$`),
		regexp.MustCompile(`(?i)^[XYZ][0-9]{7}[A-Z]$`),
	}
)

type Rule func(value string) string

func Required(v string) string {
	if strings.TrimSpace(v) == "" {
		return CodeRequired
	}
	return ""
}

func Email(v string) string {
	if v == "" {
		return CodeRequired
	}
	if !emailPattern.MatchString(v) {
		return CodeEmailFormat
	}
	return ""
}

func Phone(v string) string {
	if v == "" {
		return CodeRequired
	}
	if !phonePattern.MatchString(v) {
		return CodePhoneFormat
	}
	return ""
}

// DNI accepts a Spanish national id (8 digits + letter) or a foreigner id
// (X/Y/Z + 7 digits + letter).
func DNI(v string) string {
	if v == "" {
		return CodeRequired
	}
	for _, p := range dniPatterns {
		if p.MatchString(v) {
			return ""
		}
	}
	return CodeDNIFormat
}

func Password(min int) Rule {
	return func(v string) string {
		if v == "" {
			return CodeRequired
		}
		if utf8.RuneCountInString(v) < min {
			return CodePasswordLength
		}
		return ""
	}
}

func ConfirmPassword(password string) Rule {
	return func(v string) string {
		if v == "" {
			return CodeRequired
		}
		if v != password {
			return CodePasswordMismatch
		}
		return ""
	}
}

// AcceptedLength lets empty values through; pair it with Required when needed.
func AcceptedLength(min, max int) Rule {
	return func(v string) string {
		if v == "" {
			return ""
		}
		n := utf8.RuneCountInString(v)
		if n < min || n > max {
			return CodeAcceptedLength
		}
		return ""
	}
}

// Optional applies r only to non-empty values.
func Optional(r Rule) Rule {
	return func(v string) string {
		if v == "" {
			return ""
		}
		return r(v)
	}
}

// Field pairs a form field with its value and rules.
type Field struct {
	Name  string
	Value string
	Rules []Rule
}

// Issue is one failed rule.
type Issue struct {
	Field string `json:"field"`
	Code  string `json:"code"`
}

// Check runs every field's rules and reports the first failure per field.
func Check(fields ...Field) []Issue {
	var out []Issue
	for _, f := range fields {
		for _, r := range f.Rules {
			if code := r(f.Value); code != "" {
				out = append(out, Issue{Field: f.Name, Code: code})
				break
			}
		}
	}
	return out
}

type Error struct {
	Issues []Issue
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, fmt.Sprintf("%s: %s", is.Field, is.Code))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Validate is Check returning an *Error, or nil when everything passes.
func Validate(fields ...Field) error {
	if issues := Check(fields...); len(issues) > 0 {
		return &Error{Issues: issues}
	}
	return nil
}
