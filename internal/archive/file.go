package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileSink writes one indented JSON file per session.
type FileSink struct {
	dir string
}

// NewFileSink creates dir if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive dir cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir %s: %w", dir, err)
	}
	return &FileSink{dir: dir}, nil
}

// Path returns the file a session record is written to.
func (s *FileSink) Path(sessionID string) string {
	return filepath.Join(s.dir, "session-"+sanitize(sessionID)+".json")
}

// Store writes the record through a temp file so readers never see a partial file.
func (s *FileSink) Store(ctx context.Context, record Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record %s: %w", record.SessionID, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write record %s: %w", record.SessionID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close record %s: %w", record.SessionID, err)
	}

	if err := os.Rename(tmp.Name(), s.Path(record.SessionID)); err != nil {
		return fmt.Errorf("rename record %s: %w", record.SessionID, err)
	}
	return nil
}

// Close does nothing.
func (s *FileSink) Close() error { return nil }

// sanitize keeps caller-supplied ids from escaping the archive directory.
// Ids that had to be rewritten get a short hash of the raw id appended so
// that "a/b" and "a_b" do not share a file.
func sanitize(id string) string {
	var b strings.Builder
	changed := false
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
			changed = true
		}
	}
	if b.Len() == 0 {
		b.WriteRune('_')
		changed = true
	}
	if changed {
		sum := sha256.Sum256([]byte(id))
		b.WriteString("-" + hex.EncodeToString(sum[:4]))
	}
	return b.String()
}
