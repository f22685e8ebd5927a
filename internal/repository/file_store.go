package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"traffic-fines-service/internal/domain/violation"
)

// FileStore keeps the ledger in a single JSON report file. Writes go to a
// temp file in the same directory which is fsynced and renamed over the
// target, so readers of the file only ever see a complete collection.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Name() string {
	return "file"
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(ctx context.Context) ([]violation.ViolationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []violation.ViolationRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger file: %w", err)
	}

	return DecodeReport(data)
}

// DecodeReport parses a violations report. Both a bare array and an
// object with a "violations" key are accepted.
func DecodeReport(data []byte) ([]violation.ViolationRecord, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []violation.ViolationRecord{}, nil
	}

	var records []violation.ViolationRecord
	if data[0] == '{' {
		var wrapped struct {
			Violations []violation.ViolationRecord `json:"violations"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("decode ledger report: %w", err)
		}
		records = wrapped.Violations
	} else if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode ledger report: %w", err)
	}

	if records == nil {
		records = []violation.ViolationRecord{}
	}
	return records, nil
}

func (s *FileStore) Save(ctx context.Context, records []violation.ViolationRecord) error {
	if records == nil {
		records = []violation.ViolationRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp ledger file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp ledger file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp ledger file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp ledger file: %w", err)
	}

	// Last point where the caller can still abandon the write.
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace ledger file: %w", err)
	}
	committed = true

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

// Ping succeeds when the ledger file exists or could be created.
func (s *FileStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(s.path); err == nil {
		return nil
	}
	info, err := os.Stat(filepath.Dir(s.path))
	if err != nil {
		return fmt.Errorf("ledger directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("ledger directory %s is not a directory", filepath.Dir(s.path))
	}
	return nil
}
