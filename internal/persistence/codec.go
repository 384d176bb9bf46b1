package persistence

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/lht-media/packager/pkg/api"
)

// EncodeValue serializes an arbitrary Go value using encoding/gob.
// Callers must ensure that concrete payload types are registered with
// gob (see the init functions in pkg/api and internal/pipeline).
// A nil value encodes to nil bytes.
func EncodeValue(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	// Encode as interface{} so DecodeValue can decode into interface{}
	// without knowing the concrete type up front.
	iv := v
	if err := enc.Encode(&iv); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeValue is the inverse of EncodeValue. Nil or empty bytes decode
// to nil.
func DecodeValue(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var iv any
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&iv); err != nil {
		return nil, err
	}
	return iv, nil
}

func encodeInterrupt(req *api.InterruptRequest) ([]byte, error) {
	if req == nil {
		return nil, nil
	}
	return EncodeValue(*req)
}

func decodeInterrupt(data []byte) (*api.InterruptRequest, error) {
	if len(data) == 0 {
		return nil, nil
	}
	v, err := DecodeValue(data)
	if err != nil {
		return nil, err
	}
	req, ok := v.(api.InterruptRequest)
	if !ok {
		return nil, fmt.Errorf("decoded interrupt payload has type %T", v)
	}
	return &req, nil
}
