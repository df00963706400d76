package blob

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FS stores objects as files under a base directory. Content types are kept
// in a sidecar meta file next to each object.
type FS struct {
	dir string
}

var _ Store = (*FS)(nil)

// NewFS creates the base directory if needed.
func NewFS(dir string) (*FS, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("blob: base directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FS{dir: dir}, nil
}

type fsMeta struct {
	ContentType string `json:"content_type"`
}

func (s *FS) path(name string) (string, error) {
	// Object names are flat; reject anything that could escape the dir.
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", ErrNotFound
	}
	return filepath.Join(s.dir, name), nil
}

func (s *FS) Put(ctx context.Context, name string, data []byte, contentType string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return err
	}
	meta, _ := json.Marshal(fsMeta{ContentType: contentType})
	return os.WriteFile(p+".meta", meta, 0o644)
}

func (s *FS) Get(ctx context.Context, name string) ([]byte, string, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", err
	}
	contentType := "application/octet-stream"
	if raw, err := os.ReadFile(p + ".meta"); err == nil {
		var m fsMeta
		if json.Unmarshal(raw, &m) == nil && m.ContentType != "" {
			contentType = m.ContentType
		}
	}
	return data, contentType, nil
}

func (s *FS) Delete(ctx context.Context, name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	_ = os.Remove(p + ".meta")
	return nil
}

func (s *FS) Exists(ctx context.Context, name string) (bool, error) {
	p, err := s.path(name)
	if err != nil {
		return false, nil
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
