package codec

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrSchema marks a record definition that uses a field type the encoder
	// does not know. It is a registry defect and aborts the conversion.
	ErrSchema = errors.New("stdf: unsupported field type")

	// ErrCoercion marks a value that cannot be converted to its field type
	ErrCoercion = errors.New("stdf: value cannot be coerced")

	// ErrPayloadTooLarge marks a record whose payload does not fit the
	// 16-bit length field of the header
	ErrPayloadTooLarge = errors.New("stdf: payload exceeds 65535 bytes")

	// ErrIO marks a failed write to the output stream
	ErrIO = errors.New("stdf: stream write failed")

	// ErrTruncated marks a frame or payload that ends early
	ErrTruncated = errors.New("stdf: truncated record")
)

// FieldError reports the record and field that failed to encode or decode
type FieldError struct {
	Record string
	Field  string
	Type   FieldType
	Err    error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s.%s (%s): %v", e.Record, e.Field, e.Type, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

func fieldError(def *RecordDef, fd FieldDef, err error) error {
	return &FieldError{Record: def.name, Field: fd.Name, Type: fd.Type, Err: err}
}
