package fhir

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/clinassist/platform/internal/shared/types"
)

// List decodes a JSON array of T. A value that is not an array decodes
// as an empty list, and an element that does not decode into T is kept
// as its zero value so positions are preserved.
type List[T any] []T

func (l *List[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		*l = nil
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(List[T], 0, len(raw))
	for _, item := range raw {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			var zero T
			v = zero
		}
		out = append(out, v)
	}
	*l = out
	return nil
}

// decodeObject unmarshals data into v when data is a JSON object and
// leaves v untouched otherwise.
func decodeObject(data []byte, v any) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil
	}
	return json.Unmarshal(data, v)
}

// CodeableConcept represents a FHIR CodeableConcept
type CodeableConcept struct {
	Coding List[Coding]     `json:"coding,omitempty"`
	Text   types.FlexString `json:"text,omitempty"`
}

func (c *CodeableConcept) UnmarshalJSON(data []byte) error {
	type plain CodeableConcept
	return decodeObject(data, (*plain)(c))
}

// Coding represents a FHIR Coding
type Coding struct {
	System  types.FlexString `json:"system,omitempty"`
	Version types.FlexString `json:"version,omitempty"`
	Code    types.FlexString `json:"code,omitempty"`
	Display types.FlexString `json:"display,omitempty"`
}

func (c *Coding) UnmarshalJSON(data []byte) error {
	type plain Coding
	return decodeObject(data, (*plain)(c))
}

// FirstCoding returns the first coding, or a zero Coding.
func (c *CodeableConcept) FirstCoding() Coding {
	if c == nil || len(c.Coding) == 0 {
		return Coding{}
	}
	return c.Coding[0]
}

// Label is the first coding's display, falling back to the concept text.
func (c *CodeableConcept) Label() string {
	if c == nil {
		return ""
	}
	if display := c.FirstCoding().Display; display != "" {
		return display.String()
	}
	return c.Text.String()
}

// Reference represents a FHIR Reference
type Reference struct {
	Reference types.FlexString `json:"reference,omitempty"`
	Type      types.FlexString `json:"type,omitempty"`
	Display   types.FlexString `json:"display,omitempty"`
}

func (r *Reference) UnmarshalJSON(data []byte) error {
	type plain Reference
	return decodeObject(data, (*plain)(r))
}

// Quantity represents a FHIR Quantity. Some servers send the value as a
// string.
type Quantity struct {
	Value  types.FlexString `json:"value,omitempty"`
	Unit   types.FlexString `json:"unit,omitempty"`
	System types.FlexString `json:"system,omitempty"`
	Code   types.FlexString `json:"code,omitempty"`
}

func (q *Quantity) UnmarshalJSON(data []byte) error {
	type plain Quantity
	return decodeObject(data, (*plain)(q))
}

// String renders "value unit", trimmed.
func (q *Quantity) String() string {
	if q == nil {
		return ""
	}
	return strings.TrimSpace(q.Value.String() + " " + q.Unit.String())
}
