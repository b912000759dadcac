package requests

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
)

// Tracking search failures. Each carries a user-facing message.
var (
	ErrTrackingEmpty    = &TrackingError{Kind: "Invalid tracking code format", Message: "Tracking code cannot be empty. Please use format: SURNAME_NUMBER (e.g., ERASMO_12345)"}
	ErrTrackingMultiple = &TrackingError{Kind: "Multiple tracking codes not allowed", Message: "Please enter only one tracking code at a time. Use format: SURNAME_NUMBER (e.g., ERASMO_12345)"}
	ErrTrackingFormat   = &TrackingError{Kind: "Invalid tracking code format", Message: "Invalid tracking code format. Please use format: SURNAME_NUMBER (e.g., ERASMO_12345)"}
	ErrSurnameMismatch  = &TrackingError{Kind: "Surname mismatch", Message: "The surname provided does not match our records for this control number. Please verify your tracking code."}
)

// TrackingError is a failed tracking search.
type TrackingError struct {
	Kind    string
	Message string
}

func (e *TrackingError) Error() string { return e.Kind }

// Is matches on Kind and Message so wrapped copies compare equal to the sentinels.
func (e *TrackingError) Is(target error) bool {
	t, ok := target.(*TrackingError)
	return ok && t.Kind == e.Kind && t.Message == e.Message
}

func trackingNotFound(code string) *TrackingError {
	return &TrackingError{
		Kind:    "Tracking code not found",
		Message: fmt.Sprintf("Tracking code %q does not exist in our system. Please verify and try again.", code),
	}
}

var (
	surnamePattern    = regexp.MustCompile(`^[A-Za-z]+$`)
	digitsPattern     = regexp.MustCompile(`^\d+$`)
	codeLikePattern   = regexp.MustCompile(`^[A-Za-z_]+_\d+$`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	codeSeparators    = []string{",", ";", "\n", "|", "&"}
)

// ValidTrackingCode reports whether code has the SURNAME_NUMBER shape: one underscore,
// a surname of at least two letters and a number of at least two digits.
func ValidTrackingCode(code string) bool {
	code = strings.TrimSpace(code)
	if strings.Count(code, "_") != 1 {
		return false
	}
	surname, number := splitTrackingCode(code)
	return len(surname) >= 2 && surnamePattern.MatchString(surname) &&
		len(number) >= 2 && digitsPattern.MatchString(number)
}

// multipleCodes reports whether input holds more than one code-like token.
func multipleCodes(input string) bool {
	for _, sep := range codeSeparators {
		if strings.Contains(input, sep) && countCodeLike(strings.Split(input, sep)) > 1 {
			return true
		}
	}
	return countCodeLike(whitespacePattern.Split(input, -1)) > 1
}

func countCodeLike(parts []string) int {
	n := 0
	for _, p := range parts {
		if codeLikePattern.MatchString(strings.TrimSpace(p)) {
			n++
		}
	}
	return n
}

// normalizeTrackingCode trims and validates a search input, returning it upper-cased.
func normalizeTrackingCode(input string) (string, error) {
	code := strings.TrimSpace(input)
	if code == "" {
		return "", ErrTrackingEmpty
	}
	if multipleCodes(code) {
		return "", ErrTrackingMultiple
	}
	if !ValidTrackingCode(code) {
		return "", ErrTrackingFormat
	}
	return strings.ToUpper(code), nil
}

func splitTrackingCode(code string) (surname, number string) {
	surname, number, _ = strings.Cut(code, "_")
	return surname, number
}

// NumberSource yields five-digit numbers for tracking codes.
type NumberSource func() string

// RandomNumber returns a uniformly random number in [10000, 99999].
func RandomNumber() string {
	return fmt.Sprintf("%05d", 10000+rand.N(90000))
}

// TrackingCode builds SURNAME_NUMBER. Characters outside A-Z are dropped from the surname
// so the result always passes ValidTrackingCode.
func TrackingCode(lastName, number string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(lastName) {
		if r >= 'A' && r <= 'Z' {
			b.WriteRune(r)
		}
	}
	surname := b.String()
	for len(surname) < 2 {
		surname += "X"
	}
	return surname + "_" + number
}
