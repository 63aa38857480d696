package receipt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spellrun/spell/pkg/fsutil"
	"github.com/spellrun/spell/pkg/template"
)

// Writer persists redacted receipts under the logs directory.
type Writer struct {
	dir string
}

// NewWriter creates a receipt writer rooted at the logs directory.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Write redacts and persists the receipt at logs/<execution_id>.json.
// The write is atomic so readers never observe a partial receipt.
func (w *Writer) Write(r *Receipt) error {
	redacted, err := RedactedCopy(r)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(redacted, "", "  ")
	if err != nil {
		return fmt.Errorf("receipt: marshal: %w", err)
	}
	return fsutil.WriteFileAtomic(w.Path(r.ExecutionID), data, 0o600)
}

// Read loads a receipt by execution id, or (nil, nil) when absent.
func (w *Writer) Read(executionID string) (*Receipt, error) {
	data, err := os.ReadFile(w.Path(executionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("receipt: read %s: %w", executionID, err)
	}
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("receipt: parse %s: %w", executionID, err)
	}
	return &r, nil
}

// Path returns the on-disk location of a receipt.
func (w *Writer) Path(executionID string) string {
	return filepath.Join(w.dir, executionID+".json")
}

// RedactedCopy returns a deep copy of the receipt with sensitive fields
// replaced and sensitive env values scrubbed from every string.
func RedactedCopy(r *Receipt) (*Receipt, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("receipt: marshal for redaction: %w", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("receipt: decode for redaction: %w", err)
	}
	redacted := template.Redact(generic, template.SensitiveEnvValues())
	out, err := json.Marshal(redacted)
	if err != nil {
		return nil, fmt.Errorf("receipt: re-encode: %w", err)
	}
	var clean Receipt
	if err := json.Unmarshal(out, &clean); err != nil {
		return nil, fmt.Errorf("receipt: rebuild: %w", err)
	}
	return &clean, nil
}
