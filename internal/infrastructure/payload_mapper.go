package infrastructure

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSONPassthroughMapper stores response bodies as compacted JSON without
// interpreting them
type JSONPassthroughMapper struct{}

// ToPayload validates raw and returns it compacted
func (JSONPassthroughMapper) ToPayload(resourceType string, raw []byte) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("empty %s response body", resourceType)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", resourceType, err)
	}
	return buf.Bytes(), nil
}
