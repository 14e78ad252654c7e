package trace

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
)

// Writer streams records into a binary trace, optionally mirroring them to a
// human-readable text dump and fingerprinting the binary bytes.
type Writer struct {
	bin    *bufio.Writer
	text   *bufio.Writer
	digest Digester

	count  uint64
	lastID uint64
	buf    []byte
}

// WriterOption configures a Writer
type WriterOption func(*Writer) error

// WithText mirrors every record as one line of text to w
func WithText(w io.Writer) WriterOption {
	return func(tw *Writer) error {
		if w != nil {
			tw.text = bufio.NewWriter(w)
		}
		return nil
	}
}

// WithDigest fingerprints the binary stream with the named digest
func WithDigest(name string) WriterOption {
	return func(tw *Writer) error {
		d, err := NewDigester(name)
		if err != nil {
			return err
		}
		tw.digest = d
		return nil
	}
}

// NewWriter writes the trace header to w and returns a Writer for the records
func NewWriter(w io.Writer, opts ...WriterOption) (*Writer, error) {
	tw := &Writer{bin: bufio.NewWriter(w), buf: make([]byte, 0, 64)}
	for _, opt := range opts {
		if err := opt(tw); err != nil {
			return nil, errors.Wrap(err, "failed to configure trace writer")
		}
	}
	if err := tw.emit([]byte(Magic)); err != nil {
		return nil, errors.Wrap(err, "failed to write trace header")
	}
	if tw.text != nil {
		if _, err := fmt.Fprintln(tw.text, "# id dir address delay size deps"); err != nil {
			return nil, errors.Wrap(err, "failed to write text header")
		}
	}
	return tw, nil
}

// Write appends one record. Ids must strictly increase.
func (w *Writer) Write(r OpRecord) error {
	if w.count > 0 && r.ID <= w.lastID {
		return errors.AssertionFailedf("record id %d written after %d", r.ID, w.lastID)
	}

	w.buf = AppendRecord(w.buf[:0], r)
	if err := w.emit(w.buf); err != nil {
		return errors.Wrapf(err, "failed to write record %d", r.ID)
	}
	if w.text != nil {
		if _, err := fmt.Fprintln(w.text, r.String()); err != nil {
			return errors.Wrapf(err, "failed to mirror record %d", r.ID)
		}
	}

	w.count++
	w.lastID = r.ID
	return nil
}

// Flush writes buffered data to the underlying writers
func (w *Writer) Flush() error {
	if err := w.bin.Flush(); err != nil {
		return errors.Wrap(err, "failed to flush trace")
	}
	if w.text != nil {
		if err := w.text.Flush(); err != nil {
			return errors.Wrap(err, "failed to flush text trace")
		}
	}
	return nil
}

// Count returns the number of records written
func (w *Writer) Count() uint64 {
	return w.count
}

// Digest returns the hex digest of the binary stream written so far, or ""
// when no digest was configured
func (w *Writer) Digest() string {
	if w.digest == nil {
		return ""
	}
	return hex.EncodeToString(w.digest.Sum())
}

// DigestName returns the configured digest, or ""
func (w *Writer) DigestName() string {
	if w.digest == nil {
		return ""
	}
	return w.digest.Name()
}

func (w *Writer) emit(p []byte) error {
	if w.digest != nil {
		if _, err := w.digest.Write(p); err != nil {
			return err
		}
	}
	_, err := w.bin.Write(p)
	return err
}

// AppendRecord appends the binary encoding of r to buf
func AppendRecord(buf []byte, r OpRecord) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, r.ID)
	buf = binary.LittleEndian.AppendUint64(buf, r.Address)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(r.Direction))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(r.Delay))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(r.Size))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(r.Deps)))
	for _, dep := range r.Deps {
		buf = binary.LittleEndian.AppendUint64(buf, dep)
	}
	return buf
}
