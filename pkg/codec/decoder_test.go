package codec

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_RoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		def  *RecordDef
		in   Values
		want Values
	}{
		{
			name: "FAR",
			def:  FAR,
			in:   Values{"CPU_TYPE": Int(2), "STDF_VER": Int(4)},
			want: Values{"CPU_TYPE": Int(2), "STDF_VER": Int(4)},
		},
		{
			name: "PTR",
			def:  PTR,
			in: Values{
				"TEST_NUM": Int(1001),
				"HEAD_NUM": Int(1),
				"SITE_NUM": Int(3),
				"RESULT":   Float(-0.25),
				"TEST_TXT": Text("IDDQ"),
				"RES_SCAL": Int(-6),
				"LO_LIMIT": Float(1.5),
				"UNITS":    Text("A"),
			},
			want: Values{
				"TEST_NUM": Int(1001), "HEAD_NUM": Int(1), "SITE_NUM": Int(3),
				"TEST_FLG": Int(0), "PARM_FLG": Int(0), "RESULT": Float(-0.25),
				"TEST_TXT": Text("IDDQ"), "ALARM_ID": Text(""), "OPT_FLAG": Int(0),
				"RES_SCAL": Int(-6), "LLM_SCAL": Int(0), "HLM_SCAL": Int(0),
				"LO_LIMIT": Float(1.5), "HI_LIMIT": Float(0), "UNITS": Text("A"),
				"C_RESFMT": Text(""), "C_LLMFMT": Text(""), "C_HLMFMT": Text(""),
				"LO_SPEC": Float(0), "HI_SPEC": Float(0),
			},
		},
		{
			name: "PRR",
			def:  PRR,
			in: Values{
				"PART_FLG": Int(1), "HARD_BIN": Int(255), "SOFT_BIN": Text("17.0"),
				"X_COORD": Int(-12), "Y_COORD": Int(30000), "TEST_T": Int(1500),
				"PART_ID": Text("DMC-1"), "PART_FIX": Ints(1, 256, 3),
			},
			want: Values{
				"HEAD_NUM": Int(0), "SITE_NUM": Int(0), "PART_FLG": Int(1),
				"NUM_TEST": Int(0), "HARD_BIN": Int(255), "SOFT_BIN": Int(17),
				"X_COORD": Int(-12), "Y_COORD": Int(30000), "TEST_T": Int(1500),
				"PART_ID": Text("DMC-1"), "PART_TXT": Text(""), "PART_FIX": Bytes([]byte{1, 0, 3}),
			},
		},
		{
			name: "MRR",
			def:  MRR,
			in:   Values{"FINISH_T": Int(1700000000), "DISP_COD": Text("F"), "USR_DESC": Text("done")},
			want: Values{"FINISH_T": Int(1700000000), "DISP_COD": Text("F"), "USR_DESC": Text("done"), "EXC_DESC": Text("")},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := EncodeRecord(tc.def, tc.in)
			require.NoError(t, err)

			raw, err := ReadRecord(bytes.NewReader(encoded))
			require.NoError(t, err)
			def, ok := raw.Def()
			require.True(t, ok)
			assert.Same(t, tc.def, def)
			assert.Equal(t, len(encoded), raw.Size())

			got, err := Decode(def, raw.Payload)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecode_LossyRoundTrip(t *testing.T) {
	encoded, err := EncodeRecord(ATR, Values{"CMD_LINE": Text("café " + strings.Repeat("x", 300))})
	require.NoError(t, err)

	got, err := Decode(ATR, encoded[HeaderSize:])
	require.NoError(t, err)
	text, _ := got["CMD_LINE"].AsText()
	assert.Len(t, text, 255)
	assert.True(t, strings.HasPrefix(text, "caf xxx"))
}

func TestDecode_OmittedTrailingFields(t *testing.T) {
	got, err := Decode(PIR, []byte{1})
	require.NoError(t, err)
	assert.Equal(t, Values{"HEAD_NUM": Int(1)}, got)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode(ATR, []byte{1, 0, 0, 0, 5, 'a'})
	assert.True(t, errors.Is(err, ErrTruncated))

	_, err = Decode(PIR, []byte{1, 2, 3})
	assert.ErrorContains(t, err, "trailing bytes")
}

func TestReadRecord(t *testing.T) {
	var stream bytes.Buffer
	enc := NewEncoder(&stream)
	require.NoError(t, enc.Write(FAR, Values{"CPU_TYPE": Int(2), "STDF_VER": Int(4)}))
	require.NoError(t, enc.Write(MRR, nil))

	r := bytes.NewReader(stream.Bytes())
	first, err := ReadRecord(r)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), first.Type)
	assert.Equal(t, uint8(10), first.Subtype)

	second, err := ReadRecord(r)
	require.NoError(t, err)
	def, ok := second.Def()
	require.True(t, ok)
	assert.Equal(t, "MRR", def.Name())

	_, err = ReadRecord(r)
	assert.Equal(t, io.EOF, err)

	t.Run("short header", func(t *testing.T) {
		_, err := ReadRecord(bytes.NewReader([]byte{2, 0}))
		assert.True(t, errors.Is(err, ErrTruncated))
	})

	t.Run("short payload", func(t *testing.T) {
		_, err := ReadRecord(bytes.NewReader([]byte{2, 0, 0, 10, 2}))
		assert.True(t, errors.Is(err, ErrTruncated))
	})
}
