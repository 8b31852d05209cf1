package convert

import (
	"context"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/stdfconv/pkg/codec"
	"github.com/ssargent/stdfconv/pkg/csvsource"
	"github.com/ssargent/stdfconv/pkg/ledger"
	"github.com/ssargent/stdfconv/pkg/metrics"
	"github.com/ssargent/stdfconv/pkg/store"
)

var fixedNow = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

type decoded struct {
	name   string
	values codec.Values
}

func readRecords(t *testing.T, path string) []decoded {
	t.Helper()
	reader, err := store.NewRecordReader(store.RecordReaderConfig{FilePath: path})
	require.NoError(t, err)
	defer reader.Close()

	var out []decoded
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		def, ok := rec.Def()
		require.True(t, ok)
		values, err := codec.Decode(def, rec.Payload)
		require.NoError(t, err)
		out = append(out, decoded{name: def.Name(), values: values})
	}
}

func names(recs []decoded) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.name
	}
	return out
}

func intField(t *testing.T, v codec.Values, field string) int64 {
	t.Helper()
	n, ok := v[field].AsInt()
	require.True(t, ok, field)
	return n
}

func textField(t *testing.T, v codec.Values, field string) string {
	t.Helper()
	s, ok := v[field].AsText()
	require.True(t, ok, field)
	return s
}

func TestConvertFile_Records(t *testing.T) {
	out := filepath.Join(t.TempDir(), "lot.stdf")
	conv := NewConverter(nil, WithClock(fixedClock), WithLabel("TEST"))

	res, err := conv.ConvertFile(context.Background(), Job{Input: filepath.Join("testdata", "lot.csv"), Output: out})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Devices)
	assert.Equal(t, 11, res.Records)
	assert.NotEqual(t, ksuid.Nil, res.ID)

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, res.Bytes, info.Size())

	recs := readRecords(t, out)
	assert.Equal(t, []string{"FAR", "ATR", "MIR", "PIR", "PTR", "PTR", "PRR", "PIR", "PTR", "PRR", "MRR"}, names(recs))

	first := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).Unix()
	second := time.Date(2024, 1, 2, 3, 5, 5, 0, time.UTC).Unix()

	far := recs[0].values
	assert.Equal(t, int64(2), intField(t, far, "CPU_TYPE"))
	assert.Equal(t, int64(4), intField(t, far, "STDF_VER"))

	atr := recs[1].values
	assert.Equal(t, fixedNow.Unix(), intField(t, atr, "MOD_TIM"))
	assert.Equal(t, "stdfconv TEST input=lot.csv", textField(t, atr, "CMD_LINE"))

	mir := recs[2].values
	assert.Equal(t, first, intField(t, mir, "SETUP_T"))
	assert.Equal(t, first, intField(t, mir, "START_T"))
	assert.Equal(t, "Q", textField(t, mir, "MODE_COD"))
	assert.Equal(t, "LOT7", textField(t, mir, "LOT_ID"))
	assert.Equal(t, "T1000", textField(t, mir, "TSTR_TYP"))
	assert.Equal(t, "T1000", textField(t, mir, "SERL_NUM"))
	assert.Equal(t, "PX", textField(t, mir, "PART_TYP"))
	assert.Equal(t, " ", textField(t, mir, "RTST_COD"))

	vdd := recs[4].values
	assert.Equal(t, int64(1001), intField(t, vdd, "TEST_NUM"))
	assert.Equal(t, "VDD", textField(t, vdd, "TEST_TXT"))
	assert.Equal(t, "V", textField(t, vdd, "UNITS"))
	result, _ := vdd["RESULT"].AsFloat()
	assert.InDelta(t, 1.01, result, 1e-6)
	lo, _ := vdd["LO_LIMIT"].AsFloat()
	assert.InDelta(t, 0.9, lo, 1e-6)

	idd := recs[5].values
	idLo, _ := idd["LO_LIMIT"].AsFloat()
	assert.True(t, math.IsNaN(idLo), "missing limit is NaN")
	idHi, _ := idd["HI_SPEC"].AsFloat()
	assert.Equal(t, 5.0, idHi)

	pass := recs[6].values
	assert.Equal(t, int64(0), intField(t, pass, "PART_FLG"))
	assert.Equal(t, int64(2), intField(t, pass, "NUM_TEST"))
	assert.Equal(t, int64(1), intField(t, pass, "HARD_BIN"))
	assert.Equal(t, int64(1), intField(t, pass, "SOFT_BIN"))
	assert.Equal(t, int64(3), intField(t, pass, "X_COORD"))
	assert.Equal(t, int64(-4), intField(t, pass, "Y_COORD"))
	assert.Equal(t, int64(12), intField(t, pass, "TEST_T"))
	assert.Equal(t, "DMC1", textField(t, pass, "PART_ID"))

	fail := recs[9].values
	assert.Equal(t, int64(1), intField(t, fail, "PART_FLG"))
	assert.Equal(t, int64(1), intField(t, fail, "NUM_TEST"))
	assert.Equal(t, int64(255), intField(t, fail, "HARD_BIN"))
	assert.Equal(t, int64(17), intField(t, fail, "SOFT_BIN"))
	assert.Equal(t, "PX", textField(t, fail, "PART_ID"))

	mrr := recs[10].values
	assert.Equal(t, second, intField(t, mrr, "FINISH_T"))
	assert.Equal(t, "F", textField(t, mrr, "DISP_COD"))
}

func TestConvertFile_MetaOverrides(t *testing.T) {
	meta, err := LoadMetaConfig(filepath.Join("testdata", "meta.json"), 1, 1)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "lot.stdf")
	conv := NewConverter(meta, WithClock(fixedClock))
	_, err = conv.ConvertFile(context.Background(), Job{Input: filepath.Join("testdata", "lot.csv"), Output: out})
	require.NoError(t, err)

	recs := readRecords(t, out)
	assert.Equal(t, []string{"FAR", "ATR", "ATR", "ATR", "MIR"}, names(recs)[:5])
	assert.Equal(t, "note one", textField(t, recs[2].values, "CMD_LINE"))
	assert.Equal(t, "2", textField(t, recs[3].values, "CMD_LINE"))

	mir := recs[4].values
	assert.Equal(t, "OVERRIDE", textField(t, mir, "LOT_ID"))
	assert.Equal(t, int64(7), intField(t, mir, "SETUP_T"), "numeric text coerces into U4")

	pir := recs[5].values
	assert.Equal(t, int64(2), intField(t, pir, "HEAD_NUM"))
	assert.Equal(t, int64(3), intField(t, pir, "SITE_NUM"))
}

func TestConvertFile_Gzip(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "lot.stdf")
	packed := filepath.Join(dir, "lot.stdf.gz")
	in := filepath.Join("testdata", "lot.csv")

	_, err := NewConverter(nil, WithClock(fixedClock)).ConvertFile(context.Background(), Job{Input: in, Output: plain})
	require.NoError(t, err)
	_, err = NewConverter(nil, WithClock(fixedClock), WithCompression(true), WithFsync(true)).
		ConvertFile(context.Background(), Job{Input: in, Output: packed})
	require.NoError(t, err)

	assert.Equal(t, rawFrames(t, plain), rawFrames(t, packed))
}

func rawFrames(t *testing.T, path string) [][]byte {
	t.Helper()
	reader, err := store.NewRecordReader(store.RecordReaderConfig{FilePath: path})
	require.NoError(t, err)
	defer reader.Close()

	var frames [][]byte
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			return frames
		}
		require.NoError(t, err)
		frames = append(frames, append([]byte{rec.Type, rec.Subtype}, rec.Payload...))
	}
}

func TestConvertFile_WideUnsignedFields(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "wide.csv")
	csv := "SN,Test Result,Test Time,Vdd,Leak\n" +
		",,,3000000000,4294967296\n" +
		",,,0,\n" +
		",,,1,\n" +
		",,,V,nA\n" +
		"A1,PASS,3000000000,0.5,\n"
	require.NoError(t, os.WriteFile(in, []byte(csv), 0600))

	out := filepath.Join(dir, "wide.stdf")
	_, err := NewConverter(nil, WithClock(fixedClock)).ConvertFile(context.Background(), Job{Input: in, Output: out})
	require.NoError(t, err)

	recs := readRecords(t, out)
	var ptrs []codec.Values
	var prr codec.Values
	for _, r := range recs {
		switch r.name {
		case "PTR":
			ptrs = append(ptrs, r.values)
		case "PRR":
			prr = r.values
		}
	}
	require.Len(t, ptrs, 1, "the blank Leak cell is not executed")
	assert.Equal(t, int64(3000000000), intField(t, ptrs[0], "TEST_NUM"))
	assert.Equal(t, int64(3000000000), intField(t, prr, "TEST_T"))

	t.Run("test number beyond U4 fails the job", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.csv")
		require.NoError(t, os.WriteFile(bad, []byte("SN,Leak\n,4294967296\n,\n,\n,\nA1,3\n"), 0600))
		badOut := filepath.Join(dir, "bad.stdf")

		_, err := NewConverter(nil).ConvertFile(context.Background(), Job{Input: bad, Output: badOut})
		require.Error(t, err)
		var fe *codec.FieldError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, "PTR", fe.Record)
		assert.Equal(t, "TEST_NUM", fe.Field)
		assert.NoFileExists(t, badOut)
	})
}

func TestConvertFile_Failures(t *testing.T) {
	dir := t.TempDir()

	t.Run("no devices", func(t *testing.T) {
		out := filepath.Join(dir, "empty.stdf")
		_, err := NewConverter(nil).ConvertFile(context.Background(), Job{Input: filepath.Join("testdata", "empty.csv"), Output: out})
		assert.True(t, errors.Is(err, ErrNoDevices))
		assert.NoFileExists(t, out)
	})

	t.Run("too few rows", func(t *testing.T) {
		in := filepath.Join(dir, "short.csv")
		require.NoError(t, os.WriteFile(in, []byte("a,b\n"), 0600))
		_, err := NewConverter(nil).ConvertFile(context.Background(), Job{Input: in, Output: filepath.Join(dir, "short.stdf")})
		assert.True(t, errors.Is(err, csvsource.ErrTooFewRows))
	})

	t.Run("missing input", func(t *testing.T) {
		_, err := NewConverter(nil).ConvertFile(context.Background(), Job{Input: filepath.Join(dir, "nope.csv"), Output: filepath.Join(dir, "nope.stdf")})
		assert.Error(t, err)
	})

	t.Run("record error aborts and keeps previous output", func(t *testing.T) {
		out := filepath.Join(dir, "keep.stdf")
		require.NoError(t, os.WriteFile(out, []byte("previous"), 0600))

		meta := DefaultMetaConfig(1, 1)
		meta.MIROverrides["STAT_NUM"] = "not a number"

		_, err := NewConverter(meta).ConvertFile(context.Background(), Job{Input: filepath.Join("testdata", "lot.csv"), Output: out})
		require.Error(t, err)
		assert.True(t, errors.Is(err, codec.ErrCoercion))

		var fe *codec.FieldError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, "MIR", fe.Record)
		assert.Equal(t, "STAT_NUM", fe.Field)

		data, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Equal(t, "previous", string(data))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		for _, e := range entries {
			assert.NotContains(t, e.Name(), ".tmp-", "temporary file must be removed")
		}
	})

	t.Run("strict loss policy", func(t *testing.T) {
		meta := DefaultMetaConfig(1, 1)
		meta.MIROverrides["LOT_ID"] = "loté"

		out := filepath.Join(dir, "strict.stdf")
		_, err := NewConverter(meta, WithLossPolicy(codec.LossStrict)).
			ConvertFile(context.Background(), Job{Input: filepath.Join("testdata", "lot.csv"), Output: out})
		assert.True(t, errors.Is(err, codec.ErrCoercion))
		assert.NoFileExists(t, out)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		out := filepath.Join(dir, "cancel.stdf")
		_, err := NewConverter(nil).ConvertFile(ctx, Job{Input: filepath.Join("testdata", "lot.csv"), Output: out})
		assert.True(t, errors.Is(err, context.Canceled))
		assert.NoFileExists(t, out)
	})
}

type memRecorder struct {
	entries []ledger.Entry
}

func (m *memRecorder) Record(e ledger.Entry) (ksuid.KSUID, error) {
	m.entries = append(m.entries, e)
	return e.ID, nil
}

func TestConvertFile_RecorderAndMetrics(t *testing.T) {
	rec := &memRecorder{}
	m := metrics.New()
	conv := NewConverter(nil, WithRecorder(rec), WithMetrics(m), WithClock(fixedClock))

	in := filepath.Join("testdata", "lot.csv")
	res, err := conv.ConvertFile(context.Background(), Job{Input: in, Output: filepath.Join(t.TempDir(), "lot.stdf")})
	require.NoError(t, err)

	_, err = conv.ConvertFile(context.Background(), Job{Input: filepath.Join("testdata", "empty.csv"), Output: filepath.Join(t.TempDir(), "x.stdf")})
	require.Error(t, err)

	require.Len(t, rec.entries, 2)
	ok := rec.entries[0]
	assert.Equal(t, res.ID, ok.ID)
	assert.Equal(t, ledger.StatusSuccess, ok.Status)
	assert.Equal(t, 11, ok.Records)

	data, err := os.ReadFile(in)
	require.NoError(t, err)
	assert.Equal(t, ledger.Fingerprint(data), ok.Fingerprint)

	failed := rec.entries[1]
	assert.Equal(t, ledger.StatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "no device rows")
}

func TestParseResult(t *testing.T) {
	for in, want := range map[string]float64{"1.5": 1.5, " -2 ": -2, "1e3": 1000} {
		got, ok := parseResult(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	x, ok := parseResult("NaN")
	assert.True(t, ok)
	assert.True(t, math.IsNaN(x))

	x, ok = parseResult("1e400")
	assert.True(t, ok)
	assert.True(t, math.IsInf(x, 1))

	for _, in := range []string{"", "  ", "FAIL", "1,5"} {
		_, ok := parseResult(in)
		assert.False(t, ok, in)
	}
}

func TestDeviceTimestamp(t *testing.T) {
	now := fixedNow
	for raw, want := range map[string]int64{
		"20240102_030405":     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).Unix(),
		"2024-01-02 03:04:05": time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).Unix(),
		"yesterday":           now.Unix(),
		"":                    now.Unix(),
	} {
		dev := &csvsource.Device{Metadata: map[string]string{"DATE": raw}}
		assert.Equal(t, want, deviceTimestamp(dev, now), raw)
	}
}

func TestIsPass(t *testing.T) {
	for raw, want := range map[string]bool{"PASS": true, " pass ": true, "Pass": true, "FAIL": false, "": false, "PASSED": false} {
		dev := &csvsource.Device{Metadata: map[string]string{"Test Result": raw}}
		assert.Equal(t, want, isPass(dev), raw)
	}
}
