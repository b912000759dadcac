package requests

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/xu-registrar/doctrack/internal/rbac"
)

// Validation limits.
const (
	ControlNumberLength    = 5
	MaxAmount              = 9999.99
	MaxCommentLength       = 1000
	MaxQuantityPerDocument = 100
	MaxTotalCopies         = 100
)

// DocumentOther requires a free-text description in otherDocuments.
const DocumentOther = "Other"

// Closed value sets.
var (
	Years = []string{"1st Year", "2nd Year", "3rd Year", "4th Year", "5th Year"}

	DocumentTypes = []string{
		"Transcript of Records",
		"Diploma",
		"Certificate of Enrollment",
		"Certificate of Graduation",
		"Certificate of Good Moral Character",
		DocumentOther,
	}

	ReceiveOptions = []string{"pickup", "mail", "email"}
)

// Receive options with extra requirements.
const (
	ReceiveMail  = "mail"
	ReceiveEmail = "email"
)

var (
	namePattern          = regexp.MustCompile(`^[A-Za-z\s\-']+$`)
	controlNumberPattern = regexp.MustCompile(`^\d{5}$`)
	phonePattern         = regexp.MustCompile(`^09\d{9}$`)
	phoneNoise           = regexp.MustCompile(`[\s\-()]`)
	datePattern          = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	amountPattern        = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
)

// ValidationResult is the outcome of validating one section. Sanitized is nil unless Valid.
type ValidationResult[T any] struct {
	Valid     bool
	Errors    []string
	Sanitized *T
}

func result[T any](errs errorList, sanitized func() T) ValidationResult[T] {
	if len(errs) > 0 {
		return ValidationResult[T]{Errors: errs}
	}
	v := sanitized()
	return ValidationResult[T]{Valid: true, Errors: []string{}, Sanitized: &v}
}

type errorList []string

func (l *errorList) add(msg string) {
	if !slices.Contains(*l, msg) {
		*l = append(*l, msg)
	}
}

// ControlNumberLookup reports whether a control number is already in use.
type ControlNumberLookup func(ctx context.Context, controlNumber string) (bool, error)

// Validator runs the section validators. It is safe for concurrent use.
type Validator struct {
	registry *rbac.Registry
	validate *validator.Validate
	clock    func() time.Time
	location *time.Location
}

// ValidatorConfig configures a Validator.
type ValidatorConfig struct {
	Registry *rbac.Registry
	Clock    func() time.Time
	// Location decides which calendar day counts as today for due dates.
	Location *time.Location
}

// NewValidator constructs a Validator.
func NewValidator(cfg ValidatorConfig) *Validator {
	v := &Validator{
		registry: cfg.Registry,
		validate: validator.New(),
		clock:    cfg.Clock,
		location: cfg.Location,
	}
	if v.registry == nil {
		v.registry = rbac.NewRegistry()
	}
	if v.clock == nil {
		v.clock = time.Now
	}
	if v.location == nil {
		v.location = time.Local
	}
	return v
}

// ValidateStudent checks the student section.
func (v *Validator) ValidateStudent(in *StudentInput) ValidationResult[StudentDetails] {
	if in == nil {
		return ValidationResult[StudentDetails]{Errors: []string{"Student details are required"}}
	}
	s := StudentInput{
		LastName:      strings.TrimSpace(in.LastName),
		FirstName:     strings.TrimSpace(in.FirstName),
		MiddleName:    strings.TrimSpace(in.MiddleName),
		Year:          strings.TrimSpace(in.Year),
		Program:       strings.TrimSpace(in.Program),
		ContactNumber: strings.TrimSpace(in.ContactNumber),
		Evaluator:     strings.TrimSpace(in.Evaluator),
	}

	var errs errorList
	required := []struct{ value, message string }{
		{s.LastName, "Last Name is required"},
		{s.FirstName, "First Name is required"},
		{s.Year, "Year is required"},
		{s.Program, "Program is required"},
		{s.ContactNumber, "Contact Number is required"},
		{s.Evaluator, "Evaluator is required"},
	}
	for _, f := range required {
		if f.value == "" {
			errs.add(f.message)
		}
	}

	names := []struct{ value, label string }{
		{s.LastName, "Last Name"},
		{s.FirstName, "First Name"},
		{s.MiddleName, "Middle Name"},
	}
	for _, f := range names {
		if f.value != "" && !namePattern.MatchString(f.value) {
			errs.add(f.label + " can only contain letters, spaces, hyphens, and apostrophes")
		}
	}

	if s.Year != "" && !slices.Contains(Years, s.Year) {
		errs.add("Year must be one of: " + strings.Join(Years, ", "))
	}
	if s.ContactNumber != "" && !ValidContactNumber(s.ContactNumber) {
		errs.add("Invalid contact number format")
	}
	if s.Evaluator != "" && !v.validInstitutionalEmail(s.Evaluator) {
		errs.add(fmt.Sprintf("Evaluator email must be from XU domain (%s or %s)", rbac.DomainStaff, rbac.DomainStudent))
	}

	return result(errs, func() StudentDetails {
		upper := cases.Upper(language.Und)
		lower := cases.Lower(language.Und)
		return StudentDetails{
			LastName:      upper.String(s.LastName),
			FirstName:     upper.String(s.FirstName),
			MiddleName:    upper.String(s.MiddleName),
			Year:          s.Year,
			Program:       s.Program,
			ContactNumber: s.ContactNumber,
			Evaluator:     lower.String(s.Evaluator),
		}
	})
}

// ValidContactNumber reports whether number is an 11-digit mobile number starting with 09.
// Spaces, dashes and parentheses are ignored.
func ValidContactNumber(number string) bool {
	return phonePattern.MatchString(phoneNoise.ReplaceAllString(number, ""))
}

func (v *Validator) validInstitutionalEmail(email string) bool {
	if v.validate.Var(email, "required,email") != nil {
		return false
	}
	return v.registry.IsValidDomain(email)
}

// ValidateDocuments checks the requested documents section.
func (v *Validator) ValidateDocuments(in *DocumentsInput) ValidationResult[RequestedDocuments] {
	if in == nil {
		return ValidationResult[RequestedDocuments]{Errors: []string{"Documents data is required"}}
	}
	if len(in.Documents) == 0 {
		return ValidationResult[RequestedDocuments]{Errors: []string{"At least one document must be selected"}}
	}
	if len(in.Documents) != len(in.OriginalQuantities) || len(in.Documents) != len(in.AuthenticatedQuantities) {
		return ValidationResult[RequestedDocuments]{Errors: []string{"Document arrays must have matching lengths"}}
	}

	var errs errorList
	totalOriginal, totalAuthenticated := 0, 0
	for i, doc := range in.Documents {
		original, authenticated := in.OriginalQuantities[i], in.AuthenticatedQuantities[i]
		if !slices.Contains(DocumentTypes, doc) {
			errs.add("Invalid document type: " + doc)
		}
		if original < 0 || original > MaxQuantityPerDocument {
			errs.add(fmt.Sprintf("Original quantities must be between 0 and %d", MaxQuantityPerDocument))
		}
		if authenticated < 0 || authenticated > MaxQuantityPerDocument {
			errs.add(fmt.Sprintf("Authenticated quantities must be between 0 and %d", MaxQuantityPerDocument))
		}
		if original+authenticated == 0 {
			errs.add("Each document must have at least 1 copy (original or authenticated)")
		}
		totalOriginal += original
		totalAuthenticated += authenticated
	}
	if totalOriginal+totalAuthenticated > MaxTotalCopies {
		errs.add(fmt.Sprintf("Total copies per request cannot exceed %d", MaxTotalCopies))
	}
	other := strings.TrimSpace(in.OtherDocuments)
	if slices.Contains(in.Documents, DocumentOther) && other == "" {
		errs.add(`Other documents must be specified when "Other" is selected`)
	}

	return result(errs, func() RequestedDocuments {
		return RequestedDocuments{
			Documents:                slices.Clone(in.Documents),
			OriginalQuantities:       slices.Clone(in.OriginalQuantities),
			AuthenticatedQuantities:  slices.Clone(in.AuthenticatedQuantities),
			OtherDocuments:           other,
			TotalDocuments:           len(in.Documents),
			TotalOriginalCopies:      totalOriginal,
			TotalAuthenticatedCopies: totalAuthenticated,
		}
	})
}

// ValidateOtherDetails checks the payment and delivery section. exists is consulted for
// control number uniqueness; its error is returned as is.
func (v *Validator) ValidateOtherDetails(ctx context.Context, in *OtherInput, exists ControlNumberLookup) (ValidationResult[OtherDetails], error) {
	if in == nil {
		return ValidationResult[OtherDetails]{Errors: []string{"Other details are required"}}, nil
	}

	var errs errorList
	controlNumber := strings.TrimSpace(string(in.ControlNumber))
	switch {
	case controlNumber == "":
		errs.add("Control number is required")
	case !controlNumberPattern.MatchString(controlNumber):
		errs.add(fmt.Sprintf("Control number must be %d digits", ControlNumberLength))
	case exists != nil:
		used, err := exists(ctx, controlNumber)
		if err != nil {
			return ValidationResult[OtherDetails]{}, err
		}
		if used {
			errs.add("Control number already exists")
		}
	}

	amount, amountMsg := parseAmount(string(in.Amount))
	if amountMsg != "" {
		errs.add(amountMsg)
	}

	dueDate := strings.TrimSpace(in.DueDate)
	if msg := v.checkDueDate(dueDate); msg != "" {
		errs.add(msg)
	}

	option := strings.TrimSpace(in.ReceiveOption)
	mailing := strings.TrimSpace(in.MailingAddress)
	email := strings.TrimSpace(in.EmailAddress)
	switch {
	case !slices.Contains(ReceiveOptions, option):
		errs.add("Receive option must be one of: " + strings.Join(ReceiveOptions, ", "))
	case option == ReceiveMail && mailing == "":
		errs.add("Mailing address is required for mail delivery")
	case option == ReceiveEmail && email == "":
		errs.add("Email address is required for email delivery")
	}

	return result(errs, func() OtherDetails {
		scanned, _ := in.ScannedAndEmail.Bool()
		return OtherDetails{
			ControlNumber:   controlNumber,
			Amount:          amount,
			DueDate:         dueDate,
			ReceiveOption:   option,
			MailingAddress:  mailing,
			EmailAddress:    email,
			ScannedAndEmail: scanned,
		}
	}), nil
}

// parseAmount returns the amount or a validation message.
func parseAmount(raw string) (float64, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, "Amount is required"
	}
	if !amountPattern.MatchString(raw) {
		return 0, "Amount must be a valid number"
	}
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, "Amount must be a valid number"
	}
	switch {
	case amount < 0:
		return 0, "Amount must be 0 or positive"
	case amount > MaxAmount:
		return 0, fmt.Sprintf("Amount cannot exceed %v", MaxAmount)
	}
	if _, frac, ok := strings.Cut(raw, "."); ok && len(frac) > 2 {
		return 0, "Amount cannot have more than 2 decimal places"
	}
	return amount, ""
}

func (v *Validator) checkDueDate(dueDate string) string {
	if dueDate == "" {
		return "Due date is required"
	}
	if !datePattern.MatchString(dueDate) {
		return "Due date must be in YYYY-MM-DD format"
	}
	due, err := time.ParseInLocation(time.DateOnly, dueDate, v.location)
	if err != nil {
		return "Due date must be a valid date"
	}
	now := v.clock().In(v.location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, v.location)
	if due.Before(today) {
		return "Due date cannot be in the past"
	}
	return ""
}

// ValidateRemarks checks the optional remarks section.
func (v *Validator) ValidateRemarks(in *RemarksInput) ValidationResult[Remarks] {
	if in == nil {
		return result(nil, func() Remarks { return Remarks{} })
	}
	var errs errorList
	if utf8.RuneCountInString(in.Comment) > MaxCommentLength {
		errs.add(fmt.Sprintf("Comment exceeds maximum length (%d characters)", MaxCommentLength))
	}
	isPublic, ok := in.IsPublic.Bool()
	if !ok {
		errs.add("Privacy setting must be boolean")
	}
	return result(errs, func() Remarks {
		return Remarks{Comment: in.Comment, IsPublic: isPublic}
	})
}
