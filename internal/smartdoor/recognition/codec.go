package recognition

import (
	"errors"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
)

const templateVersion = 1

var ErrBadTemplate = errors.New("recognition: bad template blob")

type faceTemplate struct {
	Version   int       `cbor:"1,keyasint"`
	Embedding []float32 `cbor:"2,keyasint"`
}

type fingerprintTemplate struct {
	Version int `cbor:"1,keyasint"`
	Slot    int `cbor:"2,keyasint"`
}

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

func EncodeFace(embedding []float32) ([]byte, error) {
	if err := checkEmbedding(embedding); err != nil {
		return nil, err
	}
	return encMode.Marshal(faceTemplate{Version: templateVersion, Embedding: embedding})
}

func DecodeFace(blob []byte) ([]float32, error) {
	var ft faceTemplate
	if err := cbor.Unmarshal(blob, &ft); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadTemplate, err)
	}
	if ft.Version != templateVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadTemplate, ft.Version)
	}
	if err := checkEmbedding(ft.Embedding); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadTemplate, err)
	}
	return ft.Embedding, nil
}

func EncodeFingerprint(slot int) ([]byte, error) {
	if slot < 0 {
		return nil, fmt.Errorf("%w: negative slot", ErrInvalidFeatures)
	}
	return encMode.Marshal(fingerprintTemplate{Version: templateVersion, Slot: slot})
}

func DecodeFingerprint(blob []byte) (int, error) {
	var ft fingerprintTemplate
	if err := cbor.Unmarshal(blob, &ft); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadTemplate, err)
	}
	if ft.Version != templateVersion || ft.Slot < 0 {
		return 0, fmt.Errorf("%w: version %d slot %d", ErrBadTemplate, ft.Version, ft.Slot)
	}
	return ft.Slot, nil
}

func checkEmbedding(e []float32) error {
	if len(e) == 0 {
		return fmt.Errorf("%w: empty embedding", ErrInvalidFeatures)
	}
	var norm float64
	for _, v := range e {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite component", ErrInvalidFeatures)
		}
		norm += f * f
	}
	if norm == 0 {
		return fmt.Errorf("%w: zero embedding", ErrInvalidFeatures)
	}
	return nil
}
