package fhir

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/clinassist/platform/internal/shared/types"
)

// Bundle represents a FHIR R4 searchset Bundle (simplified)
type Bundle struct {
	ResourceType types.FlexString  `json:"resourceType"`
	Type         types.FlexString  `json:"type,omitempty"`
	Entry        List[BundleEntry] `json:"entry,omitempty"`
}

func (b *Bundle) UnmarshalJSON(data []byte) error {
	type plain Bundle
	return decodeObject(data, (*plain)(b))
}

// BundleEntry holds one resource, kept raw so a malformed entry cannot
// spoil the rest of the bundle.
type BundleEntry struct {
	FullURL  types.FlexString `json:"fullUrl,omitempty"`
	Resource json.RawMessage  `json:"resource,omitempty"`
}

func (e *BundleEntry) UnmarshalJSON(data []byte) error {
	type plain BundleEntry
	return decodeObject(data, (*plain)(e))
}

var errInvalidBundle = errors.New("bundle is not valid JSON")

// decodeResources decodes every entry resource into T, in bundle order.
// A body that is not a bundle object, or whose entry field is not a list,
// yields no resources. Every entry is kept: one whose resource is missing
// or is not an object yields a zero T. Only a body that is not JSON at all
// is an error.
func decodeResources[T any](body []byte) ([]T, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return []T{}, nil
	}
	if !json.Valid(body) {
		return nil, errInvalidBundle
	}

	var bundle Bundle
	if err := json.Unmarshal(body, &bundle); err != nil {
		return nil, err
	}

	out := make([]T, 0, len(bundle.Entry))
	for _, entry := range bundle.Entry {
		var resource T
		if err := decodeObject(entry.Resource, &resource); err != nil {
			var zero T
			resource = zero
		}
		out = append(out, resource)
	}
	return out, nil
}
