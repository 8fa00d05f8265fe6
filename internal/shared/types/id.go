package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ID is a UUID wrapper used for request and trace identifiers
type ID string

// NewID generates a new random ID
func NewID() ID {
	return ID(uuid.New().String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsZero checks if the ID is empty
func (id ID) IsZero() bool {
	return id == ""
}

// FlexID is an identifier the record system may encode either as a JSON
// string or as a JSON number. It always holds the string form, so "42"
// and 42 compare equal.
type FlexID string

// UnmarshalJSON accepts strings and numbers. Any other value (null, a
// boolean, an object or an array) decodes to the absent id.
func (f *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || strings.IndexByte(`nft{[`, data[0]) >= 0 {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("flex id: %w", err)
	}
	*f = FlexID(normalizeNumber(n.String()))
	return nil
}

// MarshalJSON emits a number when the id is numeric, a string otherwise.
func (f FlexID) MarshalJSON() ([]byte, error) {
	if f == "" {
		return []byte("null"), nil
	}
	if v, err := strconv.ParseInt(string(f), 10, 64); err == nil && strconv.FormatInt(v, 10) == string(f) {
		return []byte(f), nil
	}
	return json.Marshal(string(f))
}

// String returns the normalized string form.
func (f FlexID) String() string {
	return string(f)
}

// IsZero reports whether the id is absent. "0" counts as absent because
// the record system uses it as an unset foreign key.
func (f FlexID) IsZero() bool {
	return f == "" || f == "0"
}

// Equal compares against a caller-supplied identifier after normalizing
// both sides to their string form.
func (f FlexID) Equal(other string) bool {
	return f != "" && string(f) == strings.TrimSpace(other)
}

// normalizeNumber renders integral floats like 42.0 as "42".
func normalizeNumber(s string) string {
	if strings.ContainsAny(s, ".eE") {
		if v, err := strconv.ParseFloat(s, 64); err == nil && v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
	}
	return s
}

// FlexString decodes a scalar the record system may send as a string, a
// number or a boolean, always yielding its string form.
type FlexString string

// UnmarshalJSON accepts any JSON scalar. Objects and arrays decode to "".
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		*f = ""
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
	case 'n':
		*f = ""
	case 't', 'f':
		*f = FlexString(data)
	case '{', '[':
		*f = ""
	default:
		*f = FlexString(normalizeNumber(string(data)))
	}
	return nil
}

func (f FlexString) String() string {
	return string(f)
}
