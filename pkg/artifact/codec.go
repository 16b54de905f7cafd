package artifact

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
)

const (
	// CodecJSON encodes envelopes as JSON.
	CodecJSON = "json"

	// CodecGob encodes envelopes with encoding/gob.
	CodecGob = "gob"
)

// Decoder reads one value from a stream.
type Decoder interface {
	Decode(v any) error
}

// Encoder writes one value to a stream.
type Encoder interface {
	Encode(v any) error
}

// NewDecoder returns a decoder for codec reading from r.
func NewDecoder(codec string, r io.Reader) (Decoder, error) {
	switch codec {
	case CodecJSON, "":
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		return dec, nil
	case CodecGob:
		return gob.NewDecoder(r), nil
	default:
		return nil, fmt.Errorf("unsupported codec %q", codec)
	}
}

// NewEncoder returns an encoder for codec writing to w.
func NewEncoder(codec string, w io.Writer) (Encoder, error) {
	switch codec {
	case CodecJSON, "":
		return json.NewEncoder(w), nil
	case CodecGob:
		return gob.NewEncoder(w), nil
	default:
		return nil, fmt.Errorf("unsupported codec %q", codec)
	}
}

// ValidCodec reports whether codec names a supported encoding.
func ValidCodec(codec string) bool {
	return codec == CodecJSON || codec == CodecGob
}

// Marshal encodes env with codec.
func Marshal(codec string, env Envelope) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := NewEncoder(codec, &buf)
	if err != nil {
		return nil, err
	}
	if err := enc.Encode(env); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes an envelope encoded with codec.
func Unmarshal(codec string, data []byte) (Envelope, error) {
	var env Envelope
	dec, err := NewDecoder(codec, bytes.NewReader(data))
	if err != nil {
		return env, err
	}
	if err := dec.Decode(&env); err != nil {
		return env, err
	}
	if jd, ok := dec.(*json.Decoder); ok && jd.More() {
		return env, fmt.Errorf("trailing data after artifact envelope")
	}
	return env, nil
}
