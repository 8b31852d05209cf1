// Package codec provides STDF v4 record serialization for stdfconv.
//
// The codec package implements the subset of the Standard Test Data Format
// (STDF v4) needed to publish parametric test results: a fixed registry of
// record definitions and an encoder that turns a loosely typed value mapping
// into byte-exact records.
//
// # Record Format
//
// Every record is framed with a four byte header followed by the payload:
//
//	[PayloadLen(2)][RecType(1)][RecSub(1)][Payload]
//
// The payload is the concatenation of the record's fields in declaration
// order. All multi-byte numbers are little-endian.
//
// # Field Types
//
//   - U1, U2, U4: unsigned integers of 1, 2 and 4 bytes
//   - I1, I2, I4: signed integers of 1, 2 and 4 bytes
//   - R4: IEEE-754 single precision float
//   - B1: a single flag byte
//   - C1: exactly one ASCII character, space when absent
//   - Cn: length byte followed by up to 255 ASCII characters
//   - Bn: length byte followed by up to 255 raw bytes
//
// # Defaults
//
// A field missing from the value mapping is never an error. Integers encode
// as zero, R4 as 0.0, C1 as a space and Cn/Bn as a zero length byte, so a
// record definition always produces the same layout no matter how sparse the
// input is.
//
// # Usage
//
//	enc := codec.NewEncoder(w)
//	err := enc.Write(codec.FAR, codec.Values{
//	    "CPU_TYPE": codec.Int(2),
//	    "STDF_VER": codec.Int(4),
//	})
//
// # Error Handling
//
// Values that cannot be coerced to the declared field type fail with a
// *FieldError matching ErrCoercion. Unknown field tags match ErrSchema.
// Stream failures match ErrIO and keep the writer's error in the chain.
// There is no rollback: a failed Write may leave a partial record behind,
// so callers that need atomic output write to a temporary file and rename
// it on success (see package store).
//
// # Thread Safety
//
// Record definitions are immutable and safe to share. An Encoder owns its
// stream and must not be used from more than one goroutine at a time.
package codec
