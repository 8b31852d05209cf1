package store

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/stdfconv/pkg/codec"
)

func writeSample(t *testing.T, w io.Writer) {
	t.Helper()
	enc := codec.NewEncoder(w)
	require.NoError(t, enc.Write(codec.FAR, codec.Values{"CPU_TYPE": codec.Int(2), "STDF_VER": codec.Int(4)}))
	require.NoError(t, enc.Write(codec.PIR, codec.Values{"HEAD_NUM": codec.Int(1), "SITE_NUM": codec.Int(1)}))
	require.NoError(t, enc.Write(codec.MRR, codec.Values{"DISP_COD": codec.Text("P")}))
}

func TestFileSink_Commit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "lot.stdf")

	sink, err := NewFileSink(SinkConfig{FilePath: path, Fsync: true})
	require.NoError(t, err)
	assert.DirExists(t, filepath.Dir(path))
	assert.FileExists(t, sink.TempPath())
	assert.NoFileExists(t, path, "final path must not exist before commit")

	writeSample(t, sink)
	require.NoError(t, sink.Commit())

	assert.FileExists(t, path)
	assert.NoFileExists(t, sink.TempPath())
	assert.Equal(t, path, sink.Path())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 0, 0, 10, 2, 4}, data[:6])
	assert.Equal(t, int64(len(data)), sink.Size())

	_, err = sink.Write([]byte{1})
	assert.True(t, errors.Is(err, ErrSinkClosed))
	assert.True(t, errors.Is(sink.Commit(), ErrSinkClosed))
	assert.NoError(t, sink.Abort())
}

func TestFileSink_Abort(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lot.stdf")

	sink, err := NewFileSink(SinkConfig{FilePath: path})
	require.NoError(t, err)
	writeSample(t, sink)

	require.NoError(t, sink.Abort())
	assert.NoFileExists(t, path)
	assert.NoFileExists(t, sink.TempPath())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileSink_AbortKeepsPreviousOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lot.stdf")
	require.NoError(t, os.WriteFile(path, []byte("previous"), 0600))

	sink, err := NewFileSink(SinkConfig{FilePath: path})
	require.NoError(t, err)
	_, err = sink.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, sink.Abort())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(data))
}

func TestFileSink_Gzip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lot.stdf.gz")

	sink, err := NewFileSink(SinkConfig{FilePath: path, Compress: true})
	require.NoError(t, err)
	writeSample(t, sink)
	require.NoError(t, sink.Commit())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	assert.Equal(t, "lot.stdf", gz.Name)

	var plain bytes.Buffer
	writeSample(t, &plain)

	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, plain.Bytes(), data)
}

func TestNewFileSink_InvalidPath(t *testing.T) {
	_, err := NewFileSink(SinkConfig{})
	assert.Error(t, err)

	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0600))

	_, err = NewFileSink(SinkConfig{FilePath: filepath.Join(blocker, "out.stdf")})
	assert.Error(t, err)
}
