package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
)

// FileBackend persists every section into a single JSON object file,
// keyed by section name.
type FileBackend struct {
	path string
	perm os.FileMode
}

// FileBackendOption configures FileBackend behavior.
type FileBackendOption func(*FileBackend)

// WithFileMode sets the permission bits of the cache file.
// Default: 0o644.
func WithFileMode(perm os.FileMode) FileBackendOption {
	return func(b *FileBackend) {
		b.perm = perm
	}
}

// NewFileBackend creates a file backend writing to path.
func NewFileBackend(path string, opts ...FileBackendOption) *FileBackend {
	b := &FileBackend{path: path, perm: 0o644}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Path returns the cache file path.
func (b *FileBackend) Path() string {
	return b.path
}

// VerifySchema checks that the cache file can be created and appended to.
func (b *FileBackend) VerifySchema(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.OpenFile(b.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, b.perm)
	if err != nil {
		return backendError("file", "verify", err)
	}
	return backendError("file", "verify", f.Close())
}

// ReadAll loads the cache file. A missing or empty file yields no sections.
func (b *FileBackend) ReadAll(ctx context.Context) ([]Section, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, backendError("file", "read", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, backendError("file", "decode", err)
	}

	sections := make([]Section, 0, len(doc))
	for name, data := range doc {
		sections = append(sections, Section{Name: name, Data: data})
	}
	sort.Slice(sections, func(i, j int) bool { return sections[i].Name < sections[j].Name })
	return sections, nil
}

// WriteAll replaces the cache file atomically.
func (b *FileBackend) WriteAll(ctx context.Context, sections []Section) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	doc := make(map[string]any, len(sections))
	for _, sec := range sections {
		doc[sec.Name] = sec.Data
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return backendError("file", "encode", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.path), filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return backendError("file", "write", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return backendError("file", "write", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return backendError("file", "write", err)
	}
	if err := os.Chmod(tmpName, b.perm); err != nil {
		os.Remove(tmpName)
		return backendError("file", "write", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		os.Remove(tmpName)
		return backendError("file", "write", err)
	}
	return nil
}

// Close is a no-op.
func (b *FileBackend) Close() error {
	return nil
}
