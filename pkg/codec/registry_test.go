package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Codes(t *testing.T) {
	want := []struct {
		name      string
		typ, sub  uint8
		numFields int
	}{
		{"FAR", 0, 10, 2},
		{"ATR", 0, 20, 2},
		{"MIR", 1, 10, 38},
		{"PIR", 5, 10, 2},
		{"PTR", 15, 10, 20},
		{"PRR", 5, 20, 12},
		{"MRR", 1, 20, 4},
	}

	defs := Records()
	require.Len(t, defs, len(want))
	for i, w := range want {
		d := defs[i]
		assert.Equal(t, w.name, d.Name())
		assert.Equal(t, w.typ, d.Type(), w.name)
		assert.Equal(t, w.sub, d.Subtype(), w.name)
		assert.Equal(t, w.numFields, d.NumFields(), w.name)

		byCode, ok := LookupCode(w.typ, w.sub)
		require.True(t, ok)
		assert.Same(t, d, byCode)
	}
}

func TestRegistry_Lookup(t *testing.T) {
	d, ok := Lookup("ptr")
	require.True(t, ok)
	assert.Same(t, PTR, d)

	_, ok = Lookup("WIR")
	assert.False(t, ok)

	_, ok = LookupCode(2, 10)
	assert.False(t, ok)
}

func TestRegistry_FieldsAreImmutable(t *testing.T) {
	fields := PRR.Fields()
	fields[0] = FieldDef{Name: "HACKED", Type: Bn}

	assert.Equal(t, FieldDef{Name: "HEAD_NUM", Type: U1}, PRR.Fields()[0])

	list := Records()
	list[0] = nil
	assert.Same(t, FAR, Records()[0])
}

func TestRegistry_FieldOrder(t *testing.T) {
	assert.Equal(t, []FieldDef{
		{"HEAD_NUM", U1}, {"SITE_NUM", U1}, {"PART_FLG", B1}, {"NUM_TEST", U2},
		{"HARD_BIN", U2}, {"SOFT_BIN", U2}, {"X_COORD", I2}, {"Y_COORD", I2},
		{"TEST_T", U4}, {"PART_ID", Cn}, {"PART_TXT", Cn}, {"PART_FIX", Bn},
	}, PRR.Fields())

	assert.Equal(t, []FieldDef{
		{"FINISH_T", U4}, {"DISP_COD", C1}, {"USR_DESC", Cn}, {"EXC_DESC", Cn},
	}, MRR.Fields())
}

func TestParseFieldType(t *testing.T) {
	for _, tag := range []string{"U1", "U2", "U4", "I1", "I2", "I4", "R4", "B1", "C1", "Cn", "Bn"} {
		ft, ok := ParseFieldType(tag)
		require.True(t, ok, tag)
		assert.Equal(t, tag, ft.String())
	}

	_, ok := ParseFieldType("invalid")
	assert.False(t, ok)
	_, ok = ParseFieldType("D*n")
	assert.False(t, ok)

	assert.Equal(t, "FieldType(99)", FieldType(99).String())
}
