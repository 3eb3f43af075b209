package model

import "time"

type FieldType string

const (
	FieldText        FieldType = "TEXT"
	FieldTextArea    FieldType = "TEXTAREA"
	FieldNumber      FieldType = "NUMBER"
	FieldSwitch      FieldType = "SWITCH"
	FieldDropdown    FieldType = "DROPDOWN"
	FieldMultiSelect FieldType = "MULTISELECT"
	FieldFile        FieldType = "FILE"
	FieldDate        FieldType = "DATE"
	FieldTime        FieldType = "TIME"
	FieldLink        FieldType = "LINK"
)

func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldTextArea, FieldNumber, FieldSwitch, FieldDropdown,
		FieldMultiSelect, FieldFile, FieldDate, FieldTime, FieldLink:
		return true
	}
	return false
}

type RequestStatus string

const (
	StatusPending  RequestStatus = "PENDING"
	StatusApproved RequestStatus = "APPROVED"
	StatusRejected RequestStatus = "REJECTED"
	StatusCanceled RequestStatus = "CANCELED"
	StatusPaused   RequestStatus = "PAUSED"
)

func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCanceled, StatusPaused:
		return true
	}
	return false
}

// CanTransition reports whether a request may move from s to next.
// APPROVED, REJECTED and CANCELED are terminal.
func (s RequestStatus) CanTransition(next RequestStatus) bool {
	if !next.Valid() || s == next {
		return false
	}
	switch s {
	case StatusPending:
		return true
	case StatusPaused:
		return next != StatusPending
	}
	return false
}

type Form struct {
	ID          int       `json:"id,omitempty"`
	Version     int       `json:"version,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	TeamID      string    `json:"team_id,omitempty"`
	Sections    []Section `json:"sections"`
}

type Section struct {
	ID             int    `json:"id,omitempty"`
	Name           string `json:"name"`
	Order          int    `json:"order"`
	IsDuplicatable bool   `json:"is_duplicatable"`
	// DuplicatableID tags one instance of an exploded duplicatable
	// section. Nil for templates and non-duplicated instances.
	DuplicatableID *string `json:"duplicatable_id,omitempty"`
	Fields         []Field `json:"fields"`
}

type Field struct {
	ID       int       `json:"id,omitempty"`
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	ReadOnly bool      `json:"read_only"`
	Order    int       `json:"order"`
	Options  []Option  `json:"options,omitempty"`
	// Responses holds every response recorded for this field across a
	// request, possibly spanning duplicated section instances. After
	// reconstruction each instance carries at most one entry, nil
	// meaning unanswered.
	Responses []FieldResponse `json:"responses,omitempty"`
}

// Response returns the field's single response after reconstruction,
// or nil if the field was left unanswered on that instance.
func (f Field) Response() *FieldResponse {
	if len(f.Responses) == 0 {
		return nil
	}
	return &f.Responses[0]
}

type Option struct {
	ID      int    `json:"id,omitempty"`
	FieldID int    `json:"field_id,omitempty"`
	Value   string `json:"value"`
	Order   int    `json:"order"`
}

// FieldResponse is one recorded answer. Value is always JSON-encoded
// text, never a raw primitive, so numbers, booleans, arrays and plain
// strings all round-trip through decoding.
type FieldResponse struct {
	ID        int    `json:"id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	FieldID   int    `json:"field_id"`
	Value     string `json:"value"`
	// DuplicatableSectionID correlates every response belonging to one
	// instance of a duplicated section. Nil for the non-duplicated or
	// first instance.
	DuplicatableSectionID *string `json:"duplicatable_section_id,omitempty"`
	TeamMemberID          string  `json:"team_member_id,omitempty"`
}

type Request struct {
	ID           string        `json:"id"`
	FormID       int           `json:"form_id"`
	FormName     string        `json:"form_name,omitempty"`
	TeamMemberID string        `json:"team_member_id"`
	Status       RequestStatus `json:"status"`
	DateCreated  time.Time     `json:"date_created"`
	Sections     []Section     `json:"sections,omitempty"`
}

type RequestSigner struct {
	ID           string `json:"id,omitempty"`
	RequestID    string `json:"request_id"`
	SignerID     string `json:"signer_id"`
	TeamMemberID string `json:"team_member_id"`
	IsPrimary    bool   `json:"is_primary"`
	Status       string `json:"status"`
}

type Notification struct {
	ID          int       `json:"id,omitempty"`
	RecipientID string    `json:"recipient_id"`
	Type        string    `json:"type"`
	Content     string    `json:"content"`
	RedirectURL string    `json:"redirect_url"`
	IsRead      bool      `json:"is_read"`
	DateCreated time.Time `json:"date_created,omitempty"`
}
