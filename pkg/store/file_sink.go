package store

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/segmentio/ksuid"
)

// FileSink is the append-only output of one conversion job. Bytes go to a
// hidden temporary file next to the final path; Commit renames it into place
// and Abort removes it, so a failed job never leaves a truncated STDF file
// under the final name.
type FileSink struct {
	file    *os.File
	writer  *bufio.Writer
	gz      *gzip.Writer
	out     io.Writer
	config  SinkConfig
	tmpPath string
	mutex   sync.Mutex
	offset  int64 // bytes accepted so far (before compression)
	closed  bool
}

// NewFileSink creates the temporary file for config.FilePath
func NewFileSink(config SinkConfig) (*FileSink, error) {
	if config.FilePath == "" {
		return nil, errors.New("sink: empty file path")
	}
	if config.BufferSize <= 0 {
		config.BufferSize = defaultBufferSize
	}

	dir := filepath.Dir(config.FilePath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, errors.Wrapf(err, "create output dir %s", dir)
	}

	tmpPath := filepath.Join(dir, "."+filepath.Base(config.FilePath)+".tmp-"+ksuid.New().String())
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640)
	if err != nil {
		return nil, errors.Wrap(err, "open temporary output")
	}

	s := &FileSink{
		file:    file,
		writer:  bufio.NewWriterSize(file, config.BufferSize),
		config:  config,
		tmpPath: tmpPath,
	}
	s.out = s.writer
	if config.Compress {
		s.gz = gzip.NewWriter(s.writer)
		s.gz.Name = filepath.Base(trimGzipExt(config.FilePath))
		s.out = s.gz
	}
	return s, nil
}

// Write appends p to the stream
func (s *FileSink) Write(p []byte) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return 0, ErrSinkClosed
	}
	n, err := s.out.Write(p)
	s.offset += int64(n)
	return n, err
}

// Commit flushes the stream and moves it to the final path
func (s *FileSink) Commit() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	s.closed = true

	if err := s.flush(); err != nil {
		s.discard()
		return err
	}
	if err := s.file.Close(); err != nil {
		_ = os.Remove(s.tmpPath)
		return errors.Wrap(err, "close output")
	}
	if err := os.Rename(s.tmpPath, s.config.FilePath); err != nil {
		_ = os.Remove(s.tmpPath)
		return errors.Wrapf(err, "rename output to %s", s.config.FilePath)
	}
	return nil
}

// Abort drops everything written so far. Calling it after Commit is a no-op.
func (s *FileSink) Abort() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.discard()
}

func (s *FileSink) flush() error {
	if s.gz != nil {
		if err := s.gz.Close(); err != nil {
			return errors.Wrap(err, "finish gzip stream")
		}
	}
	if err := s.writer.Flush(); err != nil {
		return errors.Wrap(err, "flush output")
	}
	if s.config.Fsync {
		if err := s.file.Sync(); err != nil {
			return errors.Wrap(err, "fsync output")
		}
	}
	return nil
}

func (s *FileSink) discard() error {
	closeErr := s.file.Close()
	if err := os.Remove(s.tmpPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove temporary output")
	}
	if closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
		return errors.Wrap(closeErr, "close temporary output")
	}
	return nil
}

// Size returns the number of uncompressed bytes written
func (s *FileSink) Size() int64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.offset
}

// Path returns the final file path
func (s *FileSink) Path() string {
	return s.config.FilePath
}

// TempPath returns the path bytes are written to until Commit
func (s *FileSink) TempPath() string {
	return s.tmpPath
}

func trimGzipExt(p string) string {
	if ext := filepath.Ext(p); ext == ".gz" {
		return p[:len(p)-len(ext)]
	}
	return p
}
