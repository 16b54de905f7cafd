package store

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/scttfrdmn/modelserve/pkg/artifact"
	"github.com/scttfrdmn/modelserve/pkg/errors"
)

// Dir is a Store backed by a local directory of <id><ext> files.
type Dir struct {
	root   string
	ext    string
	logger *zap.Logger
}

// NewDir returns a directory store. An empty ext selects DefaultExtension
// and a nil logger disables logging.
func NewDir(root, ext string, logger *zap.Logger) *Dir {
	if ext == "" {
		ext = DefaultExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dir{root: root, ext: ext, logger: logger.Named("store")}
}

// Root returns the backing directory.
func (d *Dir) Root() string { return d.root }

// List implements Store. A missing directory yields an empty list.
func (d *Dir) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(d.root)
	if err != nil {
		if os.IsNotExist(err) {
			d.logger.Warn("model directory does not exist", zap.String("path", d.root))
			return []string{}, nil
		}
		return nil, errors.Wrap(errors.ErrCodeStorageRead, err, "list model directory").
			WithComponent("store").
			WithOperation("list")
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() && e.Type()&fs.ModeSymlink == 0 {
			continue
		}
		name := e.Name()
		if IsSidecar(name) || !strings.HasSuffix(name, d.ext) {
			continue
		}
		id := strings.TrimSuffix(name, d.ext)
		if ValidateID(id) != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Fetch implements Store.
func (d *Dir) Fetch(ctx context.Context, id string) ([]byte, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(d.root, id+d.ext)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.ErrCodeNotFound, "model %s not found", id).
				WithComponent("store").
				WithOperation("fetch").
				WithDetail("path", path)
		}
		return nil, errors.Wrap(errors.ErrCodeStorageRead, err, "read artifact").
			WithComponent("store").
			WithOperation("fetch").
			WithDetail("path", path)
	}
	return data, nil
}

// FetchMetadata implements Store.
func (d *Dir) FetchMetadata(ctx context.Context, id string) (artifact.Document, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(d.root, id+MetadataSuffix)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.ErrCodeStorageRead, err, "read metadata sidecar").
			WithComponent("store").
			WithOperation("fetch_metadata").
			WithDetail("path", path)
	}
	return DecodeDocument(id, data)
}

// Ping reports whether the backing directory is readable.
func (d *Dir) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(d.root)
	if err == nil && !info.IsDir() {
		err = errors.Newf(errors.ErrCodeInvalidConfig, "%s is not a directory", d.root)
	}
	if err != nil {
		return errors.Wrap(errors.ErrCodeStorageRead, err, "model directory unavailable").
			WithComponent("store").
			WithOperation("ping").
			WithDetail("path", d.root)
	}
	return nil
}
