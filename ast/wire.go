package ast

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Programs travel between the authoring pipeline and hosts as canonical
// CBOR, so the same program always encodes to the same bytes.
var (
	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("ast: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em

	// Literal document trees decode with string-keyed maps where possible;
	// non-string keys surface later as conversion errors, not decode errors.
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("ast: failed to create CBOR dec mode: %v", err))
	}
	cborDecMode = dm
}

// EncodeProgram serializes a Program to canonical CBOR bytes.
func EncodeProgram(p *Program) ([]byte, error) {
	data, err := cborEncMode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("ast: encode program: %w", err)
	}
	return data, nil
}

// DecodeProgram deserializes a Program from CBOR bytes.
func DecodeProgram(data []byte) (*Program, error) {
	var p Program
	if err := cborDecMode.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("ast: decode program: %w", err)
	}
	return &p, nil
}
