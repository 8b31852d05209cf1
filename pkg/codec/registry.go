package codec

import (
	"strconv"
	"strings"
)

// FieldType selects the wire encoding of a single field
type FieldType uint8

const (
	fieldInvalid FieldType = iota
	U1
	U2
	U4
	I1
	I2
	I4
	R4
	B1
	C1
	Cn
	Bn
)

var fieldTypeNames = [...]string{
	fieldInvalid: "invalid",
	U1:           "U1",
	U2:           "U2",
	U4:           "U4",
	I1:           "I1",
	I2:           "I2",
	I4:           "I4",
	R4:           "R4",
	B1:           "B1",
	C1:           "C1",
	Cn:           "Cn",
	Bn:           "Bn",
}

func (t FieldType) String() string {
	if int(t) < len(fieldTypeNames) {
		return fieldTypeNames[t]
	}
	return "FieldType(" + strconv.Itoa(int(t)) + ")"
}

// ParseFieldType maps an STDF tag such as "U4" or "Cn" back to a FieldType
func ParseFieldType(tag string) (FieldType, bool) {
	for i, name := range fieldTypeNames {
		if i != int(fieldInvalid) && name == tag {
			return FieldType(i), true
		}
	}
	return fieldInvalid, false
}

// FieldDef is one named, typed field of a record
type FieldDef struct {
	Name string
	Type FieldType
}

// RecordDef describes the numeric id and field layout of an STDF record.
// Definitions are built once at init and never change.
type RecordDef struct {
	name   string
	typ    uint8
	sub    uint8
	fields []FieldDef
}

// Name returns the record's short STDF name (e.g. "PTR")
func (d *RecordDef) Name() string { return d.name }

// Type returns the STDF REC_TYP
func (d *RecordDef) Type() uint8 { return d.typ }

// Subtype returns the STDF REC_SUB
func (d *RecordDef) Subtype() uint8 { return d.sub }

// NumFields returns the number of fields in the payload
func (d *RecordDef) NumFields() int { return len(d.fields) }

// Fields returns a copy of the ordered field table
func (d *RecordDef) Fields() []FieldDef {
	out := make([]FieldDef, len(d.fields))
	copy(out, d.fields)
	return out
}

// NewRecordDef builds a record definition outside the built-in catalog.
// The field table is copied.
func NewRecordDef(name string, typ, sub uint8, fields ...FieldDef) *RecordDef {
	table := make([]FieldDef, len(fields))
	copy(table, fields)
	return &RecordDef{name: name, typ: typ, sub: sub, fields: table}
}

func f(name string, typ FieldType) FieldDef {
	return FieldDef{Name: name, Type: typ}
}

// FAR is the File Attributes Record
var FAR = NewRecordDef("FAR", 0, 10,
	f("CPU_TYPE", U1),
	f("STDF_VER", U1),
)

// ATR is the Audit Trail Record
var ATR = NewRecordDef("ATR", 0, 20,
	f("MOD_TIM", U4),
	f("CMD_LINE", Cn),
)

// MIR is the Master Information Record
var MIR = NewRecordDef("MIR", 1, 10,
	f("SETUP_T", U4),
	f("START_T", U4),
	f("STAT_NUM", U1),
	f("MODE_COD", C1),
	f("RTST_COD", C1),
	f("PROT_COD", C1),
	f("BURN_TIM", U2),
	f("CMOD_COD", C1),
	f("LOT_ID", Cn),
	f("PART_TYP", Cn),
	f("NODE_NAM", Cn),
	f("TSTR_TYP", Cn),
	f("JOB_NAM", Cn),
	f("JOB_REV", Cn),
	f("SBLOT_ID", Cn),
	f("OPER_NAM", Cn),
	f("EXEC_TYP", Cn),
	f("EXEC_VER", Cn),
	f("TEST_COD", Cn),
	f("TST_TEMP", Cn),
	f("USER_TXT", Cn),
	f("AUX_FILE", Cn),
	f("PKG_TYP", Cn),
	f("FAMLY_ID", Cn),
	f("DATE_COD", Cn),
	f("FACIL_ID", Cn),
	f("FLOOR_ID", Cn),
	f("PROC_ID", Cn),
	f("OPER_FRQ", Cn),
	f("SPEC_NAM", Cn),
	f("SPEC_VER", Cn),
	f("FLOW_ID", Cn),
	f("SETUP_ID", Cn),
	f("DSGN_REV", Cn),
	f("ENG_ID", Cn),
	f("ROM_COD", Cn),
	f("SERL_NUM", Cn),
	f("SUPR_NAM", Cn),
)

// PIR is the Part Information Record
var PIR = NewRecordDef("PIR", 5, 10,
	f("HEAD_NUM", U1),
	f("SITE_NUM", U1),
)

// PTR is the Parametric Test Record
var PTR = NewRecordDef("PTR", 15, 10,
	f("TEST_NUM", U4),
	f("HEAD_NUM", U1),
	f("SITE_NUM", U1),
	f("TEST_FLG", B1),
	f("PARM_FLG", B1),
	f("RESULT", R4),
	f("TEST_TXT", Cn),
	f("ALARM_ID", Cn),
	f("OPT_FLAG", B1),
	f("RES_SCAL", I1),
	f("LLM_SCAL", I1),
	f("HLM_SCAL", I1),
	f("LO_LIMIT", R4),
	f("HI_LIMIT", R4),
	f("UNITS", Cn),
	f("C_RESFMT", Cn),
	f("C_LLMFMT", Cn),
	f("C_HLMFMT", Cn),
	f("LO_SPEC", R4),
	f("HI_SPEC", R4),
)

// PRR is the Part Results Record
var PRR = NewRecordDef("PRR", 5, 20,
	f("HEAD_NUM", U1),
	f("SITE_NUM", U1),
	f("PART_FLG", B1),
	f("NUM_TEST", U2),
	f("HARD_BIN", U2),
	f("SOFT_BIN", U2),
	f("X_COORD", I2),
	f("Y_COORD", I2),
	f("TEST_T", U4),
	f("PART_ID", Cn),
	f("PART_TXT", Cn),
	f("PART_FIX", Bn),
)

// MRR is the Master Results Record
var MRR = NewRecordDef("MRR", 1, 20,
	f("FINISH_T", U4),
	f("DISP_COD", C1),
	f("USR_DESC", Cn),
	f("EXC_DESC", Cn),
)

// records lists every supported definition in the order they appear in a stream
var records = []*RecordDef{FAR, ATR, MIR, PIR, PTR, PRR, MRR}

// Records returns all supported record definitions
func Records() []*RecordDef {
	out := make([]*RecordDef, len(records))
	copy(out, records)
	return out
}

// Lookup returns the record definition for a logical name such as "MIR".
// Matching is case-insensitive.
func Lookup(name string) (*RecordDef, bool) {
	for _, d := range records {
		if strings.EqualFold(d.name, name) {
			return d, true
		}
	}
	return nil, false
}

// LookupCode returns the record definition for a REC_TYP/REC_SUB pair
func LookupCode(typ, sub uint8) (*RecordDef, bool) {
	for _, d := range records {
		if d.typ == typ && d.sub == sub {
			return d, true
		}
	}
	return nil, false
}
