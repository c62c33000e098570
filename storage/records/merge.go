package records

import (
	"bytes"
	"encoding/json"
)

var emptyObject = json.RawMessage("{}")

// Merge shallow-merges partial into existing. Fields of partial
// overwrite fields of existing with the same name.
//
//   - partial empty or null: existing is kept ({} if there is none)
//   - both JSON objects: the shallow merge
//   - existing missing or not an object: partial
//   - partial not an object: partial replaces existing
func Merge(existing json.RawMessage, partial json.RawMessage) (json.RawMessage, error) {
	if isNull(partial) {
		if len(existing) == 0 {
			return emptyObject, nil
		}

		return existing, nil
	}

	partialFields, ok := object(partial)

	if !ok {
		if !json.Valid(partial) {
			return nil, ErrMalformedRecord
		}

		return partial, nil
	}

	existingFields, ok := object(existing)

	if !ok {
		return partial, nil
	}

	for name, value := range partialFields {
		existingFields[name] = value
	}

	return json.Marshal(existingFields)
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)

	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func object(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	if isNull(raw) {
		return nil, false
	}

	var fields map[string]json.RawMessage

	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, false
	}

	return fields, true
}
