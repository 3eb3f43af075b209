package model

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	DateFormat = "2006-01-02"
	TimeFormat = "15:04"
)

// MalformedResponseError marks a stored response whose JSON text could
// not be decoded against its field's declared type. Aggregation passes
// log and skip these instead of failing outright.
type MalformedResponseError struct {
	FieldID int
	Raw     string
	Err     error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response for field %d: %s", e.FieldID, e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// Value is the decoded form of a response, tagged by the field type
// that produced it. Only the slot matching Type is meaningful.
type Value struct {
	Type   FieldType
	Text   string
	Number float64
	Flag   bool
	List   []string
	Date   time.Time
}

// DecodeValue parses a JSON-encoded response against the field's
// declared type.
func DecodeValue(fieldID int, t FieldType, raw string) (Value, error) {
	v := Value{Type: t}
	malformed := func(err error) (Value, error) {
		return Value{}, &MalformedResponseError{FieldID: fieldID, Raw: raw, Err: err}
	}

	switch t {
	case FieldNumber:
		if err := json.Unmarshal([]byte(raw), &v.Number); err != nil {
			return malformed(err)
		}
	case FieldSwitch:
		if err := json.Unmarshal([]byte(raw), &v.Flag); err != nil {
			return malformed(err)
		}
	case FieldMultiSelect:
		if err := json.Unmarshal([]byte(raw), &v.List); err != nil {
			return malformed(err)
		}
	case FieldDate, FieldTime:
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return malformed(err)
		}
		layout := DateFormat
		if t == FieldTime {
			layout = TimeFormat
		}
		d, err := time.Parse(layout, s)
		if err != nil {
			return malformed(err)
		}
		v.Date = d
	default:
		if err := json.Unmarshal([]byte(raw), &v.Text); err != nil {
			return malformed(err)
		}
	}
	return v, nil
}

// Encode serializes the active slot back to JSON text. The result is
// always a JSON document, never a raw primitive.
func (v Value) Encode() (string, error) {
	var out any
	switch v.Type {
	case FieldNumber:
		out = v.Number
	case FieldSwitch:
		out = v.Flag
	case FieldMultiSelect:
		list := v.List
		if list == nil {
			list = []string{}
		}
		out = list
	case FieldDate:
		out = v.Date.Format(DateFormat)
	case FieldTime:
		out = v.Date.Format(TimeFormat)
	default:
		out = v.Text
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
