package report

import (
	"encoding/json"
	"os"
)

// WriteJSON serializes any verification result shape to path.
func WriteJSON(path string, result any) error {
	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(raw, '\n'), 0o644)
}
