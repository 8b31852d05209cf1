package store

import (
	"github.com/cockroachdb/errors"
)

// SinkConfig holds configuration for an STDF output file
type SinkConfig struct {
	FilePath   string // Final path of the STDF file
	BufferSize int    // Write buffer size (0 = 64 KiB)
	Compress   bool   // gzip the stream
	Fsync      bool   // fsync before the rename in Commit
}

// RecordReaderConfig holds configuration for the record reader
type RecordReaderConfig struct {
	FilePath   string // Path to an STDF file, plain or gzip
	BufferSize int    // Read buffer size (0 = 64 KiB)
}

const defaultBufferSize = 64 << 10

// Errors
var (
	ErrSinkClosed = errors.New("sink already committed or aborted")
	ErrCorruption = errors.New("stdf file corrupt")
)
