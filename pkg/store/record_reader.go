package store

import (
	"bufio"
	"bytes"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/gzip"

	"github.com/ssargent/stdfconv/pkg/codec"
)

var gzipMagic = []byte{0x1f, 0x8b}

// RecordReader provides sequential access to the records of an STDF file.
// Gzip compressed files are detected by their magic bytes.
type RecordReader struct {
	file   *os.File
	gz     *gzip.Reader
	reader io.Reader
	offset int64 // offset of the next record in the uncompressed stream
	last   int64 // offset of the record returned by the last Next
}

// NewRecordReader opens the file named in config
func NewRecordReader(config RecordReaderConfig) (*RecordReader, error) {
	if config.BufferSize <= 0 {
		config.BufferSize = defaultBufferSize
	}

	file, err := os.Open(config.FilePath)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReaderSize(file, config.BufferSize)
	r := &RecordReader{file: file, reader: br}

	magic, err := br.Peek(len(gzipMagic))
	if err == nil && bytes.Equal(magic, gzipMagic) {
		gz, err := gzip.NewReader(br)
		if err != nil {
			file.Close()
			return nil, errors.Wrap(err, "open gzip stream")
		}
		r.gz = gz
		r.reader = gz
	}
	return r, nil
}

// Next reads the next record. It returns io.EOF at the end of the file and
// ErrCorruption when the file ends inside a record.
func (r *RecordReader) Next() (*codec.RawRecord, error) {
	rec, err := codec.ReadRecord(r.reader)
	if err != nil {
		if errors.Is(err, codec.ErrTruncated) {
			return nil, errors.Mark(errors.Wrapf(err, "at offset %d", r.offset), ErrCorruption)
		}
		return nil, err
	}
	r.last = r.offset
	r.offset += int64(rec.Size())
	return rec, nil
}

// Offset returns the offset of the record returned by the last Next call
func (r *RecordReader) Offset() int64 {
	return r.last
}

// Close closes the underlying file
func (r *RecordReader) Close() error {
	if r.gz != nil {
		_ = r.gz.Close()
	}
	return r.file.Close()
}
