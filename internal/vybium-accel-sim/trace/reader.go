package trace

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
)

// ErrBadMagic is returned when a stream does not start with the trace header
var ErrBadMagic = errors.New("not a trace file")

// maxDeps bounds the dependency count of a single decoded record
const maxDeps = 1 << 24

// Reader decodes records from a binary trace
type Reader struct {
	r    *bufio.Reader
	word [slot]byte
	read uint64
}

// NewReader checks the header of r and returns a Reader positioned at the
// first record
func NewReader(r io.Reader) (*Reader, error) {
	tr := &Reader{r: bufio.NewReader(r)}
	header := make([]byte, len(Magic))
	if _, err := io.ReadFull(tr.r, header); err != nil {
		return nil, errors.Wrap(err, "failed to read trace header")
	}
	if string(header) != Magic {
		return nil, errors.Wrapf(ErrBadMagic, "header %q", header)
	}
	return tr, nil
}

// Next decodes the next record. It returns io.EOF at a clean end of stream.
func (tr *Reader) Next() (OpRecord, error) {
	var rec OpRecord

	id, err := tr.u64()
	if err == io.EOF {
		return rec, io.EOF
	}
	if err != nil {
		return rec, errors.Wrapf(err, "failed to read record %d", tr.read)
	}
	rec.ID = id

	fields := make([]uint64, 5)
	for i := range fields {
		if fields[i], err = tr.u64(); err != nil {
			return rec, errors.Wrapf(noEOF(err), "truncated record %d", id)
		}
	}
	rec.Address = fields[0]
	rec.Direction = Direction(uint32(fields[1]))
	rec.Delay = uint32(fields[2])
	rec.Size = uint32(fields[3])

	count := fields[4]
	if count > maxDeps {
		return rec, errors.Newf("record %d claims %d dependencies", id, count)
	}
	if count > 0 {
		rec.Deps = make([]uint64, count)
		for i := range rec.Deps {
			if rec.Deps[i], err = tr.u64(); err != nil {
				return rec, errors.Wrapf(noEOF(err), "truncated dependencies of record %d", id)
			}
		}
	}

	tr.read++
	return rec, nil
}

// ReadAll decodes every record of a trace stream
func ReadAll(r io.Reader) ([]OpRecord, error) {
	tr, err := NewReader(r)
	if err != nil {
		return nil, err
	}
	records := make([]OpRecord, 0)
	for {
		rec, err := tr.Next()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
}

func (tr *Reader) u64() (uint64, error) {
	if _, err := io.ReadFull(tr.r, tr.word[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(tr.word[:]), nil
}

func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
