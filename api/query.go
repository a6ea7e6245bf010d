package api

import "encoding/json"

// DecodeBatch decodes every raw item of a batch into T. On error nothing is
// returned so callers can keep their previous state.
func DecodeBatch[T any](raw []json.RawMessage) ([]T, error) {
	out := make([]T, len(raw))
	for i, item := range raw {
		if err := json.Unmarshal(item, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}
