package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// decodeDocument parses probe stdout as exactly one JSON document.
// Params: stdout raw probe output.
// Returns: decoded value or parse error.
func decodeDocument(stdout []byte) (any, error) {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("decode JSON: stdout is empty")
	}

	var document any
	if err := json.Unmarshal(trimmed, &document); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}
	return document, nil
}
