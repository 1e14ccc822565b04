package maxent

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/crimson-sun/doccat/internal/engine/vocab"
)

// Serialized layout, little-endian:
//
//	magic "MXNT" | version u8 | metadata | labels | features | weights | crc32
//
// Strings are uvarint length + bytes, string lists are uvarint count +
// strings, floats are IEEE-754 bits. The weight matrix uses gonum's binary
// matrix encoding. The CRC covers every byte before it.
const (
	formatMagic = "MXNT"

	// FormatVersion is the only version Decode accepts.
	FormatVersion uint8 = 1

	headerLen  = len(formatMagic) + 1
	trailerLen = 4
)

// MarshalBinary encodes the model in the versioned binary format.
func (m *Model) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(formatMagic)
	buf.WriteByte(FormatVersion)

	e := encoder{buf: &buf}
	e.writeString(m.meta.ID)
	var created int64
	if !m.meta.CreatedAt.IsZero() {
		created = m.meta.CreatedAt.UnixNano()
	}
	e.writeVarint(created)
	e.writeUvarint(uint64(m.meta.Iterations))
	e.writeUvarint(uint64(m.meta.MaxIterations))
	e.writeUvarint(uint64(m.meta.Cutoff))
	e.writeFloat(m.meta.Sigma)
	e.writeFloat(m.meta.LogLikelihood)
	e.writeBool(m.meta.Converged)
	e.writeStrings(m.meta.Extractors)
	buf.WriteByte(m.meta.Tokenizer)

	e.writeStrings(m.labels.Names())
	e.writeStrings(m.features.Names())

	if _, err := m.weights.MarshalBinaryTo(&buf); err != nil {
		return nil, fmt.Errorf("maxent: encode weights: %w", err)
	}

	var sum [trailerLen]byte
	binary.LittleEndian.PutUint32(sum[:], crc32.ChecksumIEEE(buf.Bytes()))
	buf.Write(sum[:])
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes data produced by MarshalBinary into m. m must be a
// zero Model; on error it is left untouched.
func (m *Model) UnmarshalBinary(data []byte) error {
	decoded, err := Unmarshal(data)
	if err != nil {
		return err
	}
	*m = *decoded
	return nil
}

// Encode writes the binary form of m to w.
func Encode(w io.Writer, m *Model) error {
	data, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("maxent: write model: %w", err)
	}
	return nil
}

// Decode reads a complete model from r.
func Decode(r io.Reader) (*Model, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("maxent: read model: %w", err)
	}
	return Unmarshal(data)
}

// Unmarshal decodes a model. Unknown magic or version yields an
// *UnsupportedFormatError; anything else that fails to parse wraps
// ErrCorruptModel. No partially decoded model is ever returned.
func Unmarshal(data []byte) (*Model, error) {
	if len(data) < len(formatMagic) || string(data[:len(formatMagic)]) != formatMagic {
		n := min(len(data), len(formatMagic))
		return nil, &UnsupportedFormatError{Magic: string(data[:n])}
	}
	if len(data) < headerLen {
		return nil, fmt.Errorf("%w: missing version", ErrCorruptModel)
	}
	if v := data[len(formatMagic)]; v != FormatVersion {
		return nil, &UnsupportedFormatError{Magic: formatMagic, Version: v}
	}
	if len(data) < headerLen+trailerLen {
		return nil, fmt.Errorf("%w: truncated", ErrCorruptModel)
	}

	body, trailer := data[:len(data)-trailerLen], data[len(data)-trailerLen:]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(trailer) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptModel)
	}

	d := decoder{r: bytes.NewReader(body[headerLen:])}
	var meta Metadata
	meta.ID = d.readString()
	if created := d.readVarint(); created != 0 {
		meta.CreatedAt = time.Unix(0, created).UTC()
	}
	meta.Iterations = int(d.readUvarint())
	meta.MaxIterations = int(d.readUvarint())
	meta.Cutoff = int(d.readUvarint())
	meta.Sigma = d.readFloat()
	meta.LogLikelihood = d.readFloat()
	meta.Converged = d.readBool()
	meta.Extractors = d.readStrings()
	meta.Tokenizer = d.readByte()
	labelNames := d.readStrings()
	featureNames := d.readStrings()
	if d.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptModel, d.err)
	}

	labels, err := vocab.NewIndex(labelNames)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptModel, err)
	}
	features, err := vocab.NewIndex(featureNames)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptModel, err)
	}

	rest := body[len(body)-d.r.Len():]
	if err := checkWeightsHeader(rest, features.Len(), labels.Len()); err != nil {
		return nil, fmt.Errorf("%w: weights: %v", ErrCorruptModel, err)
	}
	var weights mat.Dense
	if err := weights.UnmarshalBinary(rest); err != nil {
		return nil, fmt.Errorf("%w: weights: %v", ErrCorruptModel, err)
	}

	m, err := NewModel(features, labels, &weights, meta)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptModel, err)
	}
	return m, nil
}

// denseHeaderLen is the size of gonum's Dense binary header; rows and
// columns are int64 at offsets 8 and 16.
const denseHeaderLen = 40

// checkWeightsHeader matches the matrix shape against the decoded indexes
// and the bytes actually present, before gonum allocates the matrix.
func checkWeightsHeader(data []byte, rows, cols int) error {
	if len(data) < denseHeaderLen {
		return io.ErrUnexpectedEOF
	}
	r := int64(binary.LittleEndian.Uint64(data[8:16]))
	c := int64(binary.LittleEndian.Uint64(data[16:24]))
	if r != int64(rows) || c != int64(cols) {
		return fmt.Errorf("shape %dx%d, want %dx%d", r, c, rows, cols)
	}
	if want := denseHeaderLen + rows*cols*8; len(data) != want {
		return fmt.Errorf("%d bytes, want %d", len(data), want)
	}
	return nil
}

type encoder struct {
	buf     *bytes.Buffer
	scratch [binary.MaxVarintLen64]byte
}

func (e *encoder) writeUvarint(v uint64) {
	n := binary.PutUvarint(e.scratch[:], v)
	e.buf.Write(e.scratch[:n])
}

func (e *encoder) writeVarint(v int64) {
	n := binary.PutVarint(e.scratch[:], v)
	e.buf.Write(e.scratch[:n])
}

func (e *encoder) writeFloat(v float64) {
	binary.LittleEndian.PutUint64(e.scratch[:8], math.Float64bits(v))
	e.buf.Write(e.scratch[:8])
}

func (e *encoder) writeBool(v bool) {
	if v {
		e.buf.WriteByte(1)
	} else {
		e.buf.WriteByte(0)
	}
}

func (e *encoder) writeString(s string) {
	e.writeUvarint(uint64(len(s)))
	e.buf.WriteString(s)
}

func (e *encoder) writeStrings(ss []string) {
	e.writeUvarint(uint64(len(ss)))
	for _, s := range ss {
		e.writeString(s)
	}
}

// decoder reads sequentially and remembers the first error; later reads
// return zero values.
type decoder struct {
	r   *bytes.Reader
	err error
}

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *decoder) readUvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, err := binary.ReadUvarint(d.r)
	if err != nil {
		d.fail(err)
	}
	return v
}

func (d *decoder) readVarint() int64 {
	if d.err != nil {
		return 0
	}
	v, err := binary.ReadVarint(d.r)
	if err != nil {
		d.fail(err)
	}
	return v
}

func (d *decoder) readByte() byte {
	if d.err != nil {
		return 0
	}
	b, err := d.r.ReadByte()
	if err != nil {
		d.fail(err)
	}
	return b
}

func (d *decoder) readBool() bool {
	switch d.readByte() {
	case 0:
		return false
	case 1:
		return true
	default:
		d.fail(fmt.Errorf("invalid bool"))
		return false
	}
}

func (d *decoder) readFloat() float64 {
	if d.err != nil {
		return 0
	}
	var b [8]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		d.fail(err)
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b[:]))
}

func (d *decoder) readString() string {
	n := d.readUvarint()
	if d.err != nil {
		return ""
	}
	if n > uint64(d.r.Len()) {
		d.fail(fmt.Errorf("string length %d exceeds remaining %d bytes", n, d.r.Len()))
		return ""
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.fail(err)
		return ""
	}
	return string(b)
}

func (d *decoder) readStrings() []string {
	n := d.readUvarint()
	if d.err != nil {
		return nil
	}
	// Every string takes at least one byte.
	if n > uint64(d.r.Len()) {
		d.fail(fmt.Errorf("list length %d exceeds remaining %d bytes", n, d.r.Len()))
		return nil
	}
	out := make([]string, 0, n)
	for i := uint64(0); i < n && d.err == nil; i++ {
		out = append(out, d.readString())
	}
	return out
}
