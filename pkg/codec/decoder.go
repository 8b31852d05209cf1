package codec

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/cockroachdb/errors"
)

// RawRecord is one framed record read back from a stream
type RawRecord struct {
	Type    uint8
	Subtype uint8
	Payload []byte
}

// Def returns the registry definition matching the record's type pair
func (r *RawRecord) Def() (*RecordDef, bool) {
	return LookupCode(r.Type, r.Subtype)
}

// Size returns the framed size of the record
func (r *RawRecord) Size() int {
	return HeaderSize + len(r.Payload)
}

// ReadRecord reads one framed record from r. It returns io.EOF when r is
// exhausted exactly at a record boundary and ErrTruncated when a header or
// payload is cut short.
func ReadRecord(r io.Reader) (*RawRecord, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, errors.Wrap(ErrTruncated, "short header")
		}
		return nil, err
	}

	rec := &RawRecord{
		Type:    header[2],
		Subtype: header[3],
		Payload: make([]byte, binary.LittleEndian.Uint16(header[0:])),
	}
	if _, err := io.ReadFull(r, rec.Payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, errors.Wrapf(ErrTruncated, "payload of %d bytes", len(rec.Payload))
		}
		return nil, err
	}
	return rec, nil
}

// Decode parses a payload according to def. Integer and flag fields decode
// to Int, R4 to Float, C1 and Cn to Text and Bn to Bytes. A payload that
// ends on a field boundary leaves the remaining fields absent, as STDF
// readers allow trailing fields to be omitted.
func Decode(def *RecordDef, payload []byte) (Values, error) {
	values := make(Values, len(def.fields))
	p := payload
	for _, fd := range def.fields {
		if len(p) == 0 {
			break
		}
		v, n, err := decodeField(fd.Type, p)
		if err != nil {
			return nil, fieldError(def, fd, err)
		}
		values[fd.Name] = v
		p = p[n:]
	}
	if len(p) > 0 {
		return nil, errors.Newf("%s: %d trailing bytes after last field", def.name, len(p))
	}
	return values, nil
}

func decodeField(t FieldType, p []byte) (Value, int, error) {
	need := func(n int) error {
		if len(p) < n {
			return errors.Wrapf(ErrTruncated, "need %d bytes, have %d", n, len(p))
		}
		return nil
	}

	switch t {
	case U1, B1:
		return Int(int64(p[0])), 1, nil
	case I1:
		return Int(int64(int8(p[0]))), 1, nil
	case U2:
		if err := need(2); err != nil {
			return Value{}, 0, err
		}
		return Int(int64(binary.LittleEndian.Uint16(p))), 2, nil
	case I2:
		if err := need(2); err != nil {
			return Value{}, 0, err
		}
		return Int(int64(int16(binary.LittleEndian.Uint16(p)))), 2, nil
	case U4:
		if err := need(4); err != nil {
			return Value{}, 0, err
		}
		return Int(int64(binary.LittleEndian.Uint32(p))), 4, nil
	case I4:
		if err := need(4); err != nil {
			return Value{}, 0, err
		}
		return Int(int64(int32(binary.LittleEndian.Uint32(p)))), 4, nil
	case R4:
		if err := need(4); err != nil {
			return Value{}, 0, err
		}
		return Float(float64(math.Float32frombits(binary.LittleEndian.Uint32(p)))), 4, nil
	case C1:
		return Text(string(p[:1])), 1, nil
	case Cn, Bn:
		n := int(p[0])
		if err := need(1 + n); err != nil {
			return Value{}, 0, err
		}
		body := make([]byte, n)
		copy(body, p[1:1+n])
		if t == Cn {
			return Text(string(body)), 1 + n, nil
		}
		return Bytes(body), 1 + n, nil
	default:
		return Value{}, 0, errors.Wrapf(ErrSchema, "type tag %d", uint8(t))
	}
}
