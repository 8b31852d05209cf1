package codec

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/ssargent/stdfconv/pkg/logger"
)

const (
	// HeaderSize is the size of the REC_LEN/REC_TYP/REC_SUB header
	HeaderSize = 4

	// MaxPayload is the largest payload the 16-bit REC_LEN can describe
	MaxPayload = math.MaxUint16
)

// LossPolicy decides what happens when a Cn or Bn value loses data, either
// because it is longer than 255 bytes or because non-ASCII characters were
// dropped from a Cn string.
type LossPolicy uint8

const (
	// LossSilent truncates without reporting
	LossSilent LossPolicy = iota
	// LossWarn truncates and logs a warning
	LossWarn
	// LossStrict fails the record with a coercion error
	LossStrict
)

func (p LossPolicy) String() string {
	switch p {
	case LossWarn:
		return "warn"
	case LossStrict:
		return "strict"
	default:
		return "silent"
	}
}

// ParseLossPolicy parses "silent", "warn" or "strict"
func ParseLossPolicy(s string) (LossPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "silent":
		return LossSilent, nil
	case "warn", "warning":
		return LossWarn, nil
	case "strict":
		return LossStrict, nil
	default:
		return LossSilent, errors.Newf("unknown loss policy %q", s)
	}
}

// Stats summarises what an Encoder has written
type Stats struct {
	Records     int
	Bytes       int64
	LossyFields int
	ByRecord    map[string]int
}

// Option configures an Encoder
type Option func(*Encoder)

// WithLossPolicy sets the truncation policy
func WithLossPolicy(p LossPolicy) Option {
	return func(e *Encoder) { e.policy = p }
}

// WithLogger sets the logger used by LossWarn
func WithLogger(l logger.Logger) Option {
	return func(e *Encoder) {
		if l != nil {
			e.log = l
		}
	}
}

// Encoder serialises records onto a single output stream.
// It is not safe for concurrent use; one Encoder owns one stream.
type Encoder struct {
	w      io.Writer
	policy LossPolicy
	log    logger.Logger
	buf    []byte
	stats  Stats
	lossy  int // lossy fields in the record being encoded
}

// NewEncoder creates an encoder writing to w
func NewEncoder(w io.Writer, opts ...Option) *Encoder {
	e := &Encoder{
		w:     w,
		log:   logger.Discard(),
		buf:   make([]byte, 0, 512),
		stats: Stats{ByRecord: make(map[string]int)},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Write encodes one record and writes it to the stream as a header write
// followed by a payload write. Every field of def is written; missing values
// take the type's default. On failure nothing is written unless the stream
// itself failed, in which case the stream may hold a partial record.
func (e *Encoder) Write(def *RecordDef, values Values) error {
	e.lossy = 0
	payload, err := e.appendPayload(e.buf[:0], def, values)
	if err != nil {
		return err
	}
	e.buf = payload

	var header [HeaderSize]byte
	binary.LittleEndian.PutUint16(header[0:], uint16(len(payload)))
	header[2] = def.typ
	header[3] = def.sub

	if _, err := e.w.Write(header[:]); err != nil {
		return errors.Mark(errors.Wrapf(err, "write %s header", def.name), ErrIO)
	}
	if _, err := e.w.Write(payload); err != nil {
		return errors.Mark(errors.Wrapf(err, "write %s payload", def.name), ErrIO)
	}

	e.stats.Records++
	e.stats.Bytes += int64(HeaderSize + len(payload))
	e.stats.LossyFields += e.lossy
	e.stats.ByRecord[def.name]++
	return nil
}

// Stats returns a snapshot of the encoder's counters
func (e *Encoder) Stats() Stats {
	s := e.stats
	s.ByRecord = make(map[string]int, len(e.stats.ByRecord))
	for k, v := range e.stats.ByRecord {
		s.ByRecord[k] = v
	}
	return s
}

// EncodeRecord returns the framed bytes of one record without a stream
func EncodeRecord(def *RecordDef, values Values, opts ...Option) ([]byte, error) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf, opts...).Write(def, values); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *Encoder) appendPayload(dst []byte, def *RecordDef, values Values) ([]byte, error) {
	var err error
	for _, fd := range def.fields {
		dst, err = e.appendField(dst, def, fd, values[fd.Name])
		if err != nil {
			return nil, err
		}
	}
	if len(dst) > MaxPayload {
		return nil, errors.Wrapf(ErrPayloadTooLarge, "%s payload is %d bytes", def.name, len(dst))
	}
	return dst, nil
}

func (e *Encoder) appendField(dst []byte, def *RecordDef, fd FieldDef, v Value) ([]byte, error) {
	switch fd.Type {
	case U1, I1, B1:
		n, err := v.toInteger(fd.Type)
		if err != nil {
			return nil, fieldError(def, fd, err)
		}
		return append(dst, byte(n)), nil

	case U2, I2:
		n, err := v.toInteger(fd.Type)
		if err != nil {
			return nil, fieldError(def, fd, err)
		}
		return binary.LittleEndian.AppendUint16(dst, uint16(n)), nil

	case U4, I4:
		n, err := v.toInteger(fd.Type)
		if err != nil {
			return nil, fieldError(def, fd, err)
		}
		return binary.LittleEndian.AppendUint32(dst, uint32(n)), nil

	case R4:
		x, err := v.toFloat32()
		if err != nil {
			return nil, fieldError(def, fd, err)
		}
		return binary.LittleEndian.AppendUint32(dst, math.Float32bits(x)), nil

	case C1:
		c, err := v.toC1()
		if err != nil {
			return nil, fieldError(def, fd, err)
		}
		return append(dst, c), nil

	case Cn:
		data, lost, err := v.toCn()
		if err == nil {
			err = e.checkLoss(def, fd, lost)
		}
		if err != nil {
			return nil, fieldError(def, fd, err)
		}
		dst = append(dst, byte(len(data)))
		return append(dst, data...), nil

	case Bn:
		data, lost, err := v.toBn()
		if err == nil {
			err = e.checkLoss(def, fd, lost)
		}
		if err != nil {
			return nil, fieldError(def, fd, err)
		}
		dst = append(dst, byte(len(data)))
		return append(dst, data...), nil

	default:
		return nil, fieldError(def, fd, errors.Wrapf(ErrSchema, "type tag %d", uint8(fd.Type)))
	}
}

func (e *Encoder) checkLoss(def *RecordDef, fd FieldDef, lost int) error {
	if lost == 0 {
		return nil
	}
	e.lossy++
	switch e.policy {
	case LossWarn:
		e.log.Warn("field value truncated",
			"record", def.name,
			"field", fd.Name,
			"dropped_bytes", lost)
	case LossStrict:
		return coercionErr("%d bytes would be dropped", lost)
	}
	return nil
}
