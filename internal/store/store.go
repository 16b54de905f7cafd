// Package store reads persisted model artifacts and their sidecar metadata
// from a backing store.
package store

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/scttfrdmn/modelserve/pkg/artifact"
	"github.com/scttfrdmn/modelserve/pkg/errors"
)

const (
	// DefaultExtension is the artifact file extension used when none is configured.
	DefaultExtension = ".model"

	// MetadataSuffix is appended to an identifier to name its sidecar file.
	MetadataSuffix = "_metadata.json"
)

// Store is the read-only contract the cache consumes. Implementations hold no
// state between calls and are safe for concurrent use.
type Store interface {
	// List returns the identifiers of every artifact in the store, sorted
	// ascending. Sidecar files are never reported.
	List(ctx context.Context) ([]string, error)

	// Fetch returns the raw artifact bytes, or a NOT_FOUND error.
	Fetch(ctx context.Context, id string) ([]byte, error)

	// FetchMetadata returns the decoded sidecar document. A missing sidecar
	// yields a nil document and no error.
	FetchMetadata(ctx context.Context, id string) (artifact.Document, error)
}

// Pinger is implemented by stores that can report their own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ValidateID rejects identifiers that could address anything other than a
// single artifact inside the store.
func ValidateID(id string) error {
	switch {
	case id == "":
		return errors.New(errors.ErrCodeInvalidIdentifier, "model identifier is empty")
	case id == "." || id == ".." || strings.Contains(id, ".."):
		return errors.Newf(errors.ErrCodeInvalidIdentifier, "model identifier %q is not allowed", id)
	case strings.ContainsAny(id, "/\\\x00"):
		return errors.Newf(errors.ErrCodeInvalidIdentifier, "model identifier %q contains a path separator", id)
	}
	return nil
}

// IsSidecar reports whether name is a sidecar metadata file name.
func IsSidecar(name string) bool {
	return strings.HasSuffix(name, MetadataSuffix)
}

// DecodeDocument parses sidecar bytes. The sidecar must be a JSON object.
func DecodeDocument(id string, data []byte) (artifact.Document, error) {
	var doc artifact.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCorruptArtifact, err, "malformed metadata sidecar").
			WithDetail("model", id)
	}
	if doc == nil {
		doc = artifact.Document{}
	}
	return doc, nil
}
