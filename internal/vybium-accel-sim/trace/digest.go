package trace

import (
	"crypto/sha256"
	"encoding/binary"
	stdhash "hash"

	"github.com/cockroachdb/errors"
	"github.com/vybium/vybium-crypto/pkg/vybium-crypto/field"
	vhash "github.com/vybium/vybium-crypto/pkg/vybium-crypto/hash"
	"golang.org/x/crypto/sha3"
)

// Digester fingerprints the binary trace stream
type Digester interface {
	Write(p []byte) (int, error)
	Sum() []byte
	Name() string
}

// NewDigester returns the digest selected by name: "sha256", "sha3" or "tip5"
func NewDigester(name string) (Digester, error) {
	switch name {
	case "sha256":
		return &stdDigester{name: name, h: sha256.New()}, nil
	case "sha3":
		return &stdDigester{name: name, h: sha3.New256()}, nil
	case "tip5":
		return &tip5Digester{}, nil
	default:
		return nil, errors.Newf("unsupported digest hash: %s", name)
	}
}

type stdDigester struct {
	name string
	h    stdhash.Hash
}

func (d *stdDigester) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

func (d *stdDigester) Sum() []byte {
	return d.h.Sum(nil)
}

func (d *stdDigester) Name() string {
	return d.name
}

// Bytes are packed 7 at a time into field elements so every limb is canonical
const (
	limbBytes = 7
	foldElems = 1000
)

// tip5Digester absorbs the stream as field elements and folds every
// foldElems of them into a running Tip5 digest.
type tip5Digester struct {
	acc     vhash.Digest
	pending []field.Element
	partial []byte
	length  uint64
}

func (d *tip5Digester) Write(p []byte) (int, error) {
	d.length += uint64(len(p))
	d.partial = append(d.partial, p...)
	for len(d.partial) >= limbBytes {
		d.pending = append(d.pending, limb(d.partial[:limbBytes]))
		d.partial = d.partial[limbBytes:]
		if len(d.pending) == foldElems {
			d.fold()
		}
	}
	return len(p), nil
}

func (d *tip5Digester) fold() {
	input := make([]field.Element, 0, vhash.DigestLen+len(d.pending))
	input = append(input, d.acc[:]...)
	input = append(input, d.pending...)
	d.acc = vhash.HashVarlen(input)
	d.pending = d.pending[:0]
}

func (d *tip5Digester) Sum() []byte {
	final := &tip5Digester{acc: d.acc}
	final.pending = append(final.pending, d.pending...)
	if len(d.partial) > 0 {
		final.pending = append(final.pending, limb(d.partial))
	}
	final.pending = append(final.pending, field.New(d.length))
	final.fold()

	out := make([]byte, len(final.acc)*8)
	for i, elem := range final.acc {
		binary.LittleEndian.PutUint64(out[i*8:], elem.Value())
	}
	return out
}

func (d *tip5Digester) Name() string {
	return "tip5"
}

func limb(b []byte) field.Element {
	var v uint64
	for i, c := range b {
		v |= uint64(c) << (8 * i)
	}
	return field.New(v)
}
