package loader

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scttfrdmn/modelserve/pkg/artifact"
	"github.com/scttfrdmn/modelserve/pkg/errors"
)

func TestNew(t *testing.T) {
	l, err := New("")
	require.NoError(t, err)
	assert.Equal(t, artifact.CodecJSON, l.Codec())

	_, err = New("pickle")
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestDeserialize(t *testing.T) {
	env := artifact.Envelope{Kind: artifact.KindLinear, Weights: [][]float64{{1, 2}}, Bias: []float64{1}}

	for _, codec := range []string{artifact.CodecJSON, artifact.CodecGob} {
		t.Run(codec, func(t *testing.T) {
			data, err := artifact.Marshal(codec, env)
			require.NoError(t, err)

			l, err := New(codec)
			require.NoError(t, err)
			p, err := l.Deserialize(data)
			require.NoError(t, err)

			out, err := p.Predict([]float64{1, 1})
			require.NoError(t, err)
			assert.Equal(t, []float64{4}, out)
		})
	}
}

func TestDeserialize_Corrupt(t *testing.T) {
	l, err := New(artifact.CodecJSON)
	require.NoError(t, err)

	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"garbage", "\x80\x04\x95pickle"},
		{"truncated", `{"kind":"linear","weights":[[1,`},
		{"unknown kind", `{"kind":"forest","weights":[[1]],"bias":[0]}`},
		{"bad shape", `{"kind":"linear","weights":[[1,2]],"bias":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := l.Deserialize([]byte(tt.data))
			assert.Nil(t, p)
			assert.ErrorIs(t, err, errors.ErrCorruptArtifact)
		})
	}
}

func TestParseMetadata_Defaults(t *testing.T) {
	md := ParseMetadata(nil)
	assert.Equal(t, artifact.Unknown, md.Version)
	assert.Equal(t, artifact.Unknown, md.Type)
	assert.Nil(t, md.InputShape)
	assert.Nil(t, md.OutputShape)
	assert.Nil(t, md.Extra)

	assert.Equal(t, md, ParseMetadata(artifact.Document{}))
}

func TestParseMetadata_Fields(t *testing.T) {
	var doc artifact.Document
	require.NoError(t, json.Unmarshal([]byte(`{
		"version": "1.2.0",
		"type": "RandomForestClassifier",
		"input_shape": 20,
		"output_shape": 2,
		"accuracy": 0.93,
		"features": ["a", "b"]
	}`), &doc))

	md := ParseMetadata(doc)
	assert.Equal(t, "1.2.0", md.Version)
	assert.Equal(t, "RandomForestClassifier", md.Type)
	require.NotNil(t, md.InputShape)
	assert.Equal(t, 20, *md.InputShape)
	require.NotNil(t, md.OutputShape)
	assert.Equal(t, 2, *md.OutputShape)
	assert.Equal(t, 0.93, md.Extra["accuracy"])
	assert.Len(t, md.Extra, 2)
}

func TestParseMetadata_IgnoresInvalidShapes(t *testing.T) {
	md := ParseMetadata(artifact.Document{
		"version":      []any{"1", "2"},
		"input_shape":  "twenty",
		"output_shape": 2.5,
	})

	assert.Equal(t, artifact.Unknown, md.Version)
	assert.Nil(t, md.InputShape)
	assert.Nil(t, md.OutputShape)
	assert.Equal(t, []any{"1", "2"}, md.Extra["version"])
	assert.Equal(t, "twenty", md.Extra["input_shape"])
	assert.Equal(t, 2.5, md.Extra["output_shape"])

	md = ParseMetadata(artifact.Document{"input_shape": nil, "output_shape": json.Number("3")})
	assert.Nil(t, md.InputShape)
	require.NotNil(t, md.OutputShape)
	assert.Equal(t, 3, *md.OutputShape)
	assert.Nil(t, md.Extra)
}

func TestParseMetadata_ScalarVersionAndType(t *testing.T) {
	tests := []struct {
		name    string
		doc     artifact.Document
		version string
		typ     string
	}{
		{"integral number", artifact.Document{"version": 2.0, "type": true}, "2", "true"},
		{"fractional number", artifact.Document{"version": 2.1}, "2.1", artifact.Unknown},
		{"json number", artifact.Document{"version": json.Number("3")}, "3", artifact.Unknown},
		{"empty string", artifact.Document{"version": "", "type": nil}, artifact.Unknown, artifact.Unknown},
		{"object", artifact.Document{"type": map[string]any{"k": "v"}}, artifact.Unknown, artifact.Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := ParseMetadata(tt.doc)
			assert.Equal(t, tt.version, md.Version)
			assert.Equal(t, tt.typ, md.Type)
		})
	}
}
