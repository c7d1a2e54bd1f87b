// Package serializer encodes turn values and context bags to the bytes that
// storage drivers persist.
package serializer

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"

	"github.com/papercomputeco/ctxstore/pkg/storage"
)

// Serializer converts values to and from bytes. Decode must produce a value
// structurally equal to the one passed to Encode.
type Serializer interface {
	// Name is the short name used in configuration ("json", "gob").
	Name() string
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// New returns the serializer registered under name. "pickle" is accepted as
// an alias for gob, matching the file storage scheme of the same name.
func New(name string) (Serializer, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "gob", "pickle":
		return Gob{}, nil
	default:
		return nil, fmt.Errorf("unknown serializer %q", name)
	}
}

// JSON is the default serializer.
type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &storage.SerializationError{Err: err}
	}
	return data, nil
}

func (JSON) Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &storage.SerializationError{Err: err}
	}
	return nil
}

// Gob is a compact binary serializer for Go-only deployments.
type Gob struct{}

func (Gob) Name() string { return "gob" }

func (Gob) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, &storage.SerializationError{Err: err}
	}
	return buf.Bytes(), nil
}

func (Gob) Decode(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return &storage.SerializationError{Err: err}
	}
	return nil
}
