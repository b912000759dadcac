// Package requests validates, stores and tracks document requests.
package requests

import (
	"errors"
	"strings"
	"time"

	"github.com/xu-registrar/doctrack/internal/rbac"
)

// Status is a request lifecycle stage.
type Status string

// Statuses in lifecycle order.
const (
	StatusReceived   Status = "Request Received"
	StatusProcessing Status = "Processing"
	StatusReady      Status = "Ready for Pickup"
)

var statusOrder = map[Status]int{
	StatusReceived:   0,
	StatusProcessing: 1,
	StatusReady:      2,
}

// Order returns the position of s in the lifecycle, or -1 when unknown.
func (s Status) Order() int {
	if o, ok := statusOrder[s]; ok {
		return o
	}
	return -1
}

var (
	// ErrNotFound indicates no request matched.
	ErrNotFound = errors.New("requests: not found")
	// ErrDuplicateControlNumber indicates the control number is already used.
	ErrDuplicateControlNumber = errors.New("requests: control number already exists")
	// ErrDuplicateTrackingCode indicates a tracking code collision on insert.
	ErrDuplicateTrackingCode = errors.New("requests: tracking code already exists")
	// ErrDuplicateID indicates an id collision on insert.
	ErrDuplicateID = errors.New("requests: duplicate id")
	// ErrForbidden indicates the caller lacks the required permission.
	ErrForbidden = errors.New("requests: insufficient permissions")
	// ErrUnauthenticated indicates no caller was supplied.
	ErrUnauthenticated = errors.New("requests: caller required")
)

// ValidationError carries every message collected while validating input.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "requests: validation failed: " + strings.Join(e.Errors, "; ")
}

// PermissionError is a typed denial carrying the user-facing message.
type PermissionError struct {
	Message string
}

func (e *PermissionError) Error() string { return e.Message }

// Unwrap lets callers match ErrForbidden.
func (e *PermissionError) Unwrap() error { return ErrForbidden }

// Caller is the authenticated principal acting on requests.
type Caller = rbac.Principal

// StudentDetails is the sanitized student section.
type StudentDetails struct {
	LastName      string `json:"lastName"`
	FirstName     string `json:"firstName"`
	MiddleName    string `json:"middleName"`
	Year          string `json:"year"`
	Program       string `json:"program"`
	ContactNumber string `json:"contactNumber"`
	Evaluator     string `json:"evaluator"`
}

// RequestedDocuments is the sanitized documents section.
type RequestedDocuments struct {
	Documents                []string `json:"documents"`
	OriginalQuantities       []int    `json:"originalQuantities"`
	AuthenticatedQuantities  []int    `json:"authenticatedQuantities"`
	OtherDocuments           string   `json:"otherDocuments"`
	TotalDocuments           int      `json:"totalDocuments"`
	TotalOriginalCopies      int      `json:"totalOriginalCopies"`
	TotalAuthenticatedCopies int      `json:"totalAuthenticatedCopies"`
}

// OtherDetails is the sanitized payment and delivery section.
type OtherDetails struct {
	ControlNumber   string  `json:"controlNumber"`
	Amount          float64 `json:"amount"`
	DueDate         string  `json:"dueDate"`
	ReceiveOption   string  `json:"receiveOption"`
	MailingAddress  string  `json:"mailingAddress"`
	EmailAddress    string  `json:"emailAddress"`
	ScannedAndEmail bool    `json:"scannedAndEmail"`
}

// Remarks is the sanitized remarks section.
type Remarks struct {
	Comment  string `json:"comment"`
	IsPublic bool   `json:"isPublic"`
}

// HistoryEntry records one status change.
type HistoryEntry struct {
	Status    Status    `json:"status"`
	UpdatedBy string    `json:"updatedBy"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Request is a stored document request.
type Request struct {
	ID                 string             `json:"id"`
	TrackingCode       string             `json:"trackingCode"`
	ControlNumber      string             `json:"controlNumber"`
	Status             Status             `json:"status"`
	StudentDetails     StudentDetails     `json:"studentDetails"`
	RequestedDocuments RequestedDocuments `json:"requestedDocuments"`
	OtherDetails       OtherDetails       `json:"otherDetails"`
	Remarks            Remarks            `json:"remarks"`
	StatusHistory      []HistoryEntry     `json:"statusHistory"`
	CreatedBy          string             `json:"createdBy"`
	UpdatedBy          string             `json:"updatedBy,omitempty"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// Clone returns a deep copy.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	out := *r
	out.RequestedDocuments.Documents = append([]string(nil), r.RequestedDocuments.Documents...)
	out.RequestedDocuments.OriginalQuantities = append([]int(nil), r.RequestedDocuments.OriginalQuantities...)
	out.RequestedDocuments.AuthenticatedQuantities = append([]int(nil), r.RequestedDocuments.AuthenticatedQuantities...)
	out.StatusHistory = append([]HistoryEntry(nil), r.StatusHistory...)
	return &out
}

// PrimaryDocument returns the first requested document type.
func (r *Request) PrimaryDocument() string {
	if len(r.RequestedDocuments.Documents) == 0 {
		return ""
	}
	return r.RequestedDocuments.Documents[0]
}

// TrackingView is the public projection returned by tracking search.
type TrackingView struct {
	TrackingCode  string `json:"trackingCode"`
	Surname       string `json:"surname"`
	ControlNumber string `json:"controlNumber"`
	Status        Status `json:"status"`
	DocumentType  string `json:"documentType"`
	DateRequested string `json:"dateRequested"`
}

func trackingView(r *Request) TrackingView {
	surname, _ := splitTrackingCode(r.TrackingCode)
	return TrackingView{
		TrackingCode:  r.TrackingCode,
		Surname:       surname,
		ControlNumber: r.ControlNumber,
		Status:        r.Status,
		DocumentType:  r.PrimaryDocument(),
		DateRequested: r.CreatedAt.Format(time.DateOnly),
	}
}
