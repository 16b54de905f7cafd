package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	cli "github.com/urfave/cli/v2"

	"github.com/scttfrdmn/modelserve/internal/store"
	"github.com/scttfrdmn/modelserve/pkg/artifact"
	"github.com/scttfrdmn/modelserve/pkg/errors"
)

type sampleModel struct {
	id       string
	envelope artifact.Envelope
	metadata map[string]any
}

// sampleModels covers each artifact kind.
var sampleModels = []sampleModel{
	{
		id: "default",
		envelope: artifact.Envelope{
			Kind:    artifact.KindLogistic,
			Weights: [][]float64{{0.8, -0.4, 1.2, -0.6}},
			Bias:    []float64{-0.1},
		},
		metadata: map[string]any{
			"version":      "1.0.0",
			"type":         "classifier",
			"input_shape":  4,
			"output_shape": 1,
			"features":     []string{"tenure", "spend", "tickets", "engagement"},
		},
	},
	{
		id: "revenue",
		envelope: artifact.Envelope{
			Kind:    artifact.KindLinear,
			Weights: [][]float64{{12.5, 3.2, -1.7, 0.9}},
			Bias:    []float64{40},
		},
		metadata: map[string]any{
			"version":      "1.0.0",
			"type":         "regressor",
			"input_shape":  4,
			"output_shape": 1,
		},
	},
	{
		id: "segment",
		envelope: artifact.Envelope{
			Kind: artifact.KindSoftmax,
			Weights: [][]float64{
				{1.0, 0.2, -0.5, 0.1},
				{-0.3, 0.9, 0.4, -0.2},
				{-0.7, -0.6, 0.3, 1.1},
			},
			Bias:    []float64{0, 0.1, -0.1},
			Classes: []float64{0, 1, 2},
		},
		metadata: map[string]any{
			"version":      "1.0.0",
			"type":         "classifier",
			"input_shape":  4,
			"output_shape": 3,
		},
	},
}

var sampleCmd = &cli.Command{
	Name:  "sample",
	Usage: "write example model artifacts to a directory",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "output",
			Aliases:  []string{"o"},
			Usage:    "directory to write artifacts into",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "codec",
			Usage: "artifact codec (json or gob)",
			Value: artifact.CodecJSON,
		},
		&cli.StringFlag{
			Name:  "extension",
			Usage: "artifact file extension",
			Value: store.DefaultExtension,
		},
	},
	Action: func(cctx *cli.Context) error {
		dir := cctx.String("output")
		written, err := writeSamples(dir, cctx.String("codec"), cctx.String("extension"))
		if err != nil {
			return err
		}
		for _, path := range written {
			fmt.Fprintln(cctx.App.Writer, path)
		}
		return nil
	},
}

// writeSamples writes every sample model and its sidecar into dir and
// returns the paths written.
func writeSamples(dir, codec, ext string) ([]string, error) {
	if !artifact.ValidCodec(codec) {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "unsupported artifact codec %q", codec)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternalError, err, "failed to create sample directory")
	}

	var written []string
	for _, m := range sampleModels {
		data, err := artifact.Marshal(codec, m.envelope)
		if err != nil {
			return written, err
		}
		path := filepath.Join(dir, m.id+ext)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return written, errors.Wrap(errors.ErrCodeInternalError, err, "failed to write artifact")
		}
		written = append(written, path)

		sidecar, err := json.MarshalIndent(m.metadata, "", "  ")
		if err != nil {
			return written, errors.Wrap(errors.ErrCodeInternalError, err, "failed to encode metadata")
		}
		path = filepath.Join(dir, m.id+store.MetadataSuffix)
		if err := os.WriteFile(path, sidecar, 0o644); err != nil {
			return written, errors.Wrap(errors.ErrCodeInternalError, err, "failed to write metadata")
		}
		written = append(written, path)
	}
	return written, nil
}
