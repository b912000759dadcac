package requests

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// CreateInput is the raw payload for a new request. A nil section is reported as missing.
type CreateInput struct {
	StudentDetails     *StudentInput   `json:"studentDetails"`
	RequestedDocuments *DocumentsInput `json:"requestedDocuments"`
	OtherDetails       *OtherInput     `json:"otherDetails"`
	Remarks            *RemarksInput   `json:"remarks"`
}

// StudentInput is the raw student section.
type StudentInput struct {
	LastName      string `json:"lastName"`
	FirstName     string `json:"firstName"`
	MiddleName    string `json:"middleName"`
	Year          string `json:"year"`
	Program       string `json:"program"`
	ContactNumber string `json:"contactNumber"`
	Evaluator     string `json:"evaluator"`
}

// DocumentsInput is the raw documents section. The three slices are parallel.
type DocumentsInput struct {
	Documents               []string `json:"documents"`
	OriginalQuantities      []int    `json:"originalQuantities"`
	AuthenticatedQuantities []int    `json:"authenticatedQuantities"`
	OtherDocuments          string   `json:"otherDocuments"`
}

// OtherInput is the raw payment and delivery section.
type OtherInput struct {
	ControlNumber   Text   `json:"controlNumber"`
	Amount          Text   `json:"amount"`
	DueDate         string `json:"dueDate"`
	ReceiveOption   string `json:"receiveOption"`
	MailingAddress  string `json:"mailingAddress"`
	EmailAddress    string `json:"emailAddress"`
	ScannedAndEmail Flag   `json:"scannedAndEmail"`
}

// RemarksInput is the raw remarks section.
type RemarksInput struct {
	Comment  string `json:"comment"`
	IsPublic Flag   `json:"isPublic"`
}

// Text accepts a JSON string or number and keeps its literal text.
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*t = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
	default:
		*t = Text(b)
	}
	return nil
}

// Flag is a JSON value coerced to a boolean.
type Flag struct {
	raw []byte
}

// BoolFlag returns a Flag holding v.
func BoolFlag(v bool) Flag {
	return Flag{raw: []byte(strconv.FormatBool(v))}
}

// RawFlag returns a Flag holding the literal JSON value raw.
func RawFlag(raw string) Flag {
	return Flag{raw: []byte(raw)}
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flag) UnmarshalJSON(b []byte) error {
	f.raw = append([]byte(nil), bytes.TrimSpace(b)...)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (f Flag) MarshalJSON() ([]byte, error) {
	v, _ := f.Bool()
	return json.Marshal(v)
}

// Bool coerces the flag. Absent and null are false. ok is false when the value is not
// a boolean, "true"/"false", or 0/1.
func (f Flag) Bool() (value, ok bool) {
	raw := string(f.raw)
	switch raw {
	case "", "null", "false", "0":
		return false, true
	case "true", "1":
		return true, true
	}
	var s string
	if err := json.Unmarshal(f.raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "1":
			return true, true
		case "false", "0":
			return false, true
		}
	}
	return false, false
}
