package codec

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// Kind identifies which variant a Value holds
type Kind uint8

const (
	KindAbsent Kind = iota
	KindText
	KindInteger
	KindFloat
	KindBoolean
	KindBytes
	KindIntSequence
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindText:
		return "text"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindBoolean:
		return "boolean"
	case KindBytes:
		return "bytes"
	case KindIntSequence:
		return "int sequence"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a single field value supplied by the caller. The zero Value is
// absent and encodes as the field type's default.
type Value struct {
	kind Kind
	str  string
	num  int64
	flt  float64
	raw  []byte
	seq  []int
}

// Values maps field names to values for one record. Fields missing from the
// map are treated as absent.
type Values map[string]Value

// Text returns a text value
func Text(s string) Value { return Value{kind: KindText, str: s} }

// Int returns an integer value
func Int(n int64) Value { return Value{kind: KindInteger, num: n} }

// Float returns a floating-point value
func Float(x float64) Value { return Value{kind: KindFloat, flt: x} }

// Bool returns a boolean value
func Bool(b bool) Value {
	v := Value{kind: KindBoolean}
	if b {
		v.num = 1
	}
	return v
}

// Bytes returns a raw byte value. The slice is not copied.
func Bytes(b []byte) Value { return Value{kind: KindBytes, raw: b} }

// Ints returns a sequence of small integers, packed one byte each in Bn fields
func Ints(n ...int) Value { return Value{kind: KindIntSequence, seq: n} }

// Kind reports the variant held by v
func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether v carries no value
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// AsText returns the text held by v
func (v Value) AsText() (string, bool) { return v.str, v.kind == KindText }

// AsInt returns the integer held by v
func (v Value) AsInt() (int64, bool) { return v.num, v.kind == KindInteger }

// AsFloat returns the float held by v
func (v Value) AsFloat() (float64, bool) { return v.flt, v.kind == KindFloat }

// AsBool returns the boolean held by v
func (v Value) AsBool() (bool, bool) { return v.num != 0, v.kind == KindBoolean }

// AsBytes returns the raw bytes held by v
func (v Value) AsBytes() ([]byte, bool) { return v.raw, v.kind == KindBytes }

// AsInts returns the integer sequence held by v
func (v Value) AsInts() ([]int, bool) { return v.seq, v.kind == KindIntSequence }

func (v Value) String() string {
	switch v.kind {
	case KindText:
		return strconv.Quote(v.str)
	case KindInteger:
		return strconv.FormatInt(v.num, 10)
	case KindFloat:
		return strconv.FormatFloat(v.flt, 'g', -1, 64)
	case KindBoolean:
		return strconv.FormatBool(v.num != 0)
	case KindBytes:
		return fmt.Sprintf("% x", v.raw)
	case KindIntSequence:
		return fmt.Sprint(v.seq)
	default:
		return "<absent>"
	}
}

func coercionErr(format string, args ...interface{}) error {
	return errors.Wrapf(ErrCoercion, format, args...)
}

// intRange returns the inclusive bounds of an integer field type
func intRange(t FieldType) (lo, hi int64) {
	switch t {
	case U1, B1:
		return 0, math.MaxUint8
	case U2:
		return 0, math.MaxUint16
	case U4:
		return 0, math.MaxUint32
	case I1:
		return math.MinInt8, math.MaxInt8
	case I2:
		return math.MinInt16, math.MaxInt16
	default:
		return math.MinInt32, math.MaxInt32
	}
}

func truncateFloat(x float64) (int64, error) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, coercionErr("%v has no integer value", x)
	}
	t := math.Trunc(x)
	if t < math.MinInt64 || t >= math.MaxInt64 {
		return 0, coercionErr("%v overflows int64", x)
	}
	return int64(t), nil
}

// toInteger coerces v for the integer field types (U*, I*, B1). Numeric text
// is parsed as a float and truncated so cells like "12.0" are accepted.
func (v Value) toInteger(t FieldType) (int64, error) {
	var n int64
	switch v.kind {
	case KindAbsent:
		return 0, nil
	case KindBoolean:
		return v.num, nil
	case KindInteger:
		n = v.num
	case KindFloat:
		var err error
		if n, err = truncateFloat(v.flt); err != nil {
			return 0, err
		}
	case KindText:
		s := strings.TrimSpace(v.str)
		if s == "" {
			return 0, nil
		}
		x, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, coercionErr("%q is not numeric", v.str)
		}
		if n, err = truncateFloat(x); err != nil {
			return 0, err
		}
	default:
		return 0, coercionErr("%s value in %s field", v.kind, t)
	}

	lo, hi := intRange(t)
	if n < lo || n > hi {
		return 0, coercionErr("%d out of range for %s", n, t)
	}
	return n, nil
}

// canonicalNaN is the quiet NaN written for R4 fields
var canonicalNaN = math.Float32frombits(0x7fc00000)

// toFloat32 coerces v for R4 fields. NaN is a legal value and is written as
// the canonical quiet NaN.
func (v Value) toFloat32() (float32, error) {
	var x float64
	switch v.kind {
	case KindAbsent:
		return 0, nil
	case KindBoolean, KindInteger:
		x = float64(v.num)
	case KindFloat:
		x = v.flt
	case KindText:
		s := strings.TrimSpace(v.str)
		if s == "" {
			return 0, nil
		}
		var err error
		if x, err = strconv.ParseFloat(s, 64); err != nil {
			return 0, coercionErr("%q is not numeric", v.str)
		}
	default:
		return 0, coercionErr("%s value in R4 field", v.kind)
	}

	if math.IsNaN(x) {
		return canonicalNaN, nil
	}
	f := float32(x)
	if math.IsInf(float64(f), 0) && !math.IsInf(x, 0) {
		return 0, coercionErr("%v overflows R4", x)
	}
	return f, nil
}

// toC1 coerces v to a single ASCII byte. Absent and empty values, as well as
// a non-ASCII first character, become a space.
func (v Value) toC1() (byte, error) {
	switch v.kind {
	case KindAbsent:
		return ' ', nil
	case KindText:
		if v.str == "" {
			return ' ', nil
		}
		r, _ := utf8.DecodeRuneInString(v.str)
		if r > unicode.MaxASCII {
			return ' ', nil
		}
		return byte(r), nil
	case KindInteger:
		if v.num == 0 {
			return ' ', nil
		}
		if v.num < 0 || v.num > math.MaxUint8 {
			return 0, coercionErr("%d out of range for C1", v.num)
		}
		return byte(v.num), nil
	default:
		return 0, coercionErr("%s value in C1 field", v.kind)
	}
}

// maxVarLen is the longest Cn or Bn body a length byte can describe
const maxVarLen = math.MaxUint8

func asciiOnly() transform.Transformer {
	return runes.Remove(runes.Predicate(func(r rune) bool {
		return r > unicode.MaxASCII
	}))
}

// toCn coerces v to the body of a Cn field. lost counts the input bytes that
// were dropped (non-ASCII characters or truncation past 255 bytes).
func (v Value) toCn() (data []byte, lost int, err error) {
	switch v.kind {
	case KindAbsent:
		return nil, 0, nil
	case KindText:
		ascii, _, terr := transform.String(asciiOnly(), v.str)
		if terr != nil {
			return nil, 0, coercionErr("text %q: %v", v.str, terr)
		}
		lost = len(v.str) - len(ascii)
		data = []byte(ascii)
	case KindBytes:
		data = v.raw
	case KindInteger:
		data = []byte(strconv.FormatInt(v.num, 10))
	case KindFloat:
		data = []byte(strconv.FormatFloat(v.flt, 'g', -1, 64))
	case KindBoolean:
		data = []byte(strconv.FormatBool(v.num != 0))
	default:
		return nil, 0, coercionErr("%s value in Cn field", v.kind)
	}
	if len(data) > maxVarLen {
		lost += len(data) - maxVarLen
		data = data[:maxVarLen]
	}
	return data, lost, nil
}

// toBn coerces v to the body of a Bn field. Integer sequences are packed by
// keeping the low 8 bits of each element.
func (v Value) toBn() (data []byte, lost int, err error) {
	switch v.kind {
	case KindAbsent:
		return nil, 0, nil
	case KindBytes:
		data = v.raw
	case KindIntSequence:
		data = make([]byte, len(v.seq))
		for i, n := range v.seq {
			data[i] = byte(n & 0xff)
		}
	default:
		return nil, 0, coercionErr("%s value in Bn field", v.kind)
	}
	if len(data) > maxVarLen {
		lost = len(data) - maxVarLen
		data = data[:maxVarLen]
	}
	return data, lost, nil
}
