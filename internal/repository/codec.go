package repository

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/klasslink/internal/redefine"
	"github.com/klasslink/pkg/compression"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("repository: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// fingerprint is the stored form of a redefine.ClassInfo.
type fingerprint struct {
	Name            string        `cbor:"1,keyasint"`
	Hierarchy       []string      `cbor:"2,keyasint"`
	Methods         []string      `cbor:"3,keyasint"`
	Fields          []string      `cbor:"4,keyasint"`
	EnclosingClass  string        `cbor:"5,keyasint,omitempty"`
	EnclosingMethod string        `cbor:"6,keyasint,omitempty"`
	Bytes           []byte        `cbor:"7,keyasint,omitempty"`
	Inner           []fingerprint `cbor:"8,keyasint,omitempty"`
}

func toFingerprints(infos []*redefine.ClassInfo) []fingerprint {
	out := make([]fingerprint, len(infos))
	for i, info := range infos {
		out[i] = fingerprint{
			Name:            info.Name,
			Hierarchy:       info.Hierarchy,
			Methods:         info.Methods,
			Fields:          info.Fields,
			EnclosingClass:  info.EnclosingClass,
			EnclosingMethod: info.EnclosingMethod,
			Bytes:           info.Bytes,
			Inner:           toFingerprints(info.Inner),
		}
	}
	return out
}

func fromFingerprints(fps []fingerprint) []*redefine.ClassInfo {
	if len(fps) == 0 {
		return nil
	}
	out := make([]*redefine.ClassInfo, len(fps))
	for i, fp := range fps {
		out[i] = &redefine.ClassInfo{
			Name:            fp.Name,
			Hierarchy:       fp.Hierarchy,
			Methods:         fp.Methods,
			Fields:          fp.Fields,
			EnclosingClass:  fp.EnclosingClass,
			EnclosingMethod: fp.EnclosingMethod,
			Bytes:           fp.Bytes,
			Inner:           fromFingerprints(fp.Inner),
		}
	}
	return out
}

// encodeFingerprints serializes fingerprint trees as compressed CBOR.
func encodeFingerprints(c compression.Compressor, infos []*redefine.ClassInfo) ([]byte, error) {
	raw, err := cborEncMode.Marshal(toFingerprints(infos))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fingerprints: %w", err)
	}
	return c.Compress(raw)
}

// decodeFingerprints reverses encodeFingerprints. The compression type is
// detected from the payload.
func decodeFingerprints(payload []byte) ([]*redefine.ClassInfo, error) {
	raw, err := compression.AutoDecompress(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress fingerprints: %w", err)
	}
	var fps []fingerprint
	if err := cbor.Unmarshal(raw, &fps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fingerprints: %w", err)
	}
	return fromFingerprints(fps), nil
}
