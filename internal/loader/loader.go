// Package loader turns raw artifact bytes and sidecar documents into
// predictors and metadata. It holds no state and never touches the cache.
package loader

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/scttfrdmn/modelserve/pkg/artifact"
	"github.com/scttfrdmn/modelserve/pkg/errors"
)

// Loader decodes artifacts with a fixed codec.
type Loader struct {
	codec string
}

// New returns a loader for codec. An empty codec selects JSON.
func New(codec string) (*Loader, error) {
	if codec == "" {
		codec = artifact.CodecJSON
	}
	if !artifact.ValidCodec(codec) {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "unsupported artifact codec %q", codec)
	}
	return &Loader{codec: codec}, nil
}

// Codec returns the configured codec name.
func (l *Loader) Codec() string { return l.codec }

// Deserialize decodes data into a predictor. Malformed bytes and unknown
// artifact kinds fail with CORRUPT_ARTIFACT.
func (l *Loader) Deserialize(data []byte) (artifact.Predictor, error) {
	if len(data) == 0 {
		return nil, errors.New(errors.ErrCodeCorruptArtifact, "artifact is empty").
			WithComponent("loader").
			WithOperation("deserialize")
	}
	env, err := artifact.Unmarshal(l.codec, data)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCorruptArtifact, err, "decode artifact").
			WithComponent("loader").
			WithOperation("deserialize").
			WithDetail("codec", l.codec)
	}
	p, err := artifact.Build(env)
	if err != nil {
		var e *errors.Error
		if errors.As(err, &e) {
			return nil, e.WithComponent("loader").WithOperation("deserialize")
		}
		return nil, errors.Wrap(errors.ErrCodeCorruptArtifact, err, "build artifact")
	}
	return p, nil
}

// ParseMetadata is the package-level ParseMetadata, exposed as a method so
// a Loader satisfies the cache's loader contract.
func (l *Loader) ParseMetadata(doc artifact.Document) artifact.Metadata {
	return ParseMetadata(doc)
}

// ParseMetadata applies defaults to doc. It never fails: version and type
// fall back to "unknown", scalar values are formatted as text, wrong-typed
// or non-integral shapes are treated as absent, and every field other than
// the known four lands in Extra.
func ParseMetadata(doc artifact.Document) artifact.Metadata {
	md := artifact.DefaultMetadata()
	if doc == nil {
		return md
	}

	for k, v := range doc {
		switch k {
		case "version":
			if s, ok := scalarString(v); ok {
				md.Version = s
				continue
			}
		case "type":
			if s, ok := scalarString(v); ok {
				md.Type = s
				continue
			}
		case "input_shape":
			if n, ok := toInt(v); ok {
				md.InputShape = &n
				continue
			}
			if v == nil {
				continue
			}
		case "output_shape":
			if n, ok := toInt(v); ok {
				md.OutputShape = &n
				continue
			}
			if v == nil {
				continue
			}
		}
		if md.Extra == nil {
			md.Extra = make(map[string]any)
		}
		md.Extra[k] = v
	}
	return md
}

// scalarString formats strings, numbers and booleans. Empty strings,
// nulls, objects and arrays are rejected.
func scalarString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, s != ""
	case float64, int, int64, bool, json.Number:
		return fmt.Sprint(s), true
	}
	return "", false
}

func toInt(v any) (int, bool) {
	var f float64
	switch n := v.(type) {
	case int:
		return n, n >= 0
	case int64:
		f = float64(n)
	case float64:
		f = n
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		f = float64(i)
	default:
		return 0, false
	}
	if f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}
