// Package convert turns station CSV exports into STDF v4 files.
package convert

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/ksuid"

	"github.com/ssargent/stdfconv/pkg/codec"
	"github.com/ssargent/stdfconv/pkg/csvsource"
	"github.com/ssargent/stdfconv/pkg/ledger"
	"github.com/ssargent/stdfconv/pkg/logger"
	"github.com/ssargent/stdfconv/pkg/metrics"
	"github.com/ssargent/stdfconv/pkg/store"
)

// ErrNoDevices is returned for a CSV file without device rows
var ErrNoDevices = errors.New("no device rows detected")

var dateLayouts = []string{"20060102_150405", "2006-01-02 15:04:05"}

var partIDKeys = []string{"DMC_string", "IC_serial_CID", "IC_DEVICE_ID_CID", "product_id_CID", "Test_CID"}

// Job is one CSV input and its STDF output path
type Job struct {
	Input  string
	Output string
}

// Result describes a finished job
type Result struct {
	ID          ksuid.KSUID
	Input       string
	Output      string
	Fingerprint uint64
	Devices     int
	Records     int
	Bytes       int64
	LossyFields int
	Duration    time.Duration
}

// Recorder stores job outcomes, normally a *ledger.Ledger
type Recorder interface {
	Record(e ledger.Entry) (ksuid.KSUID, error)
}

// Option configures a Converter
type Option func(*Converter)

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(c *Converter) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Converter) { c.metrics = m }
}

// WithRecorder stores every job outcome in r
func WithRecorder(r Recorder) Option {
	return func(c *Converter) { c.recorder = r }
}

// WithLossPolicy sets how truncated text fields are reported
func WithLossPolicy(p codec.LossPolicy) Option {
	return func(c *Converter) { c.policy = p }
}

// WithCompression gzips the STDF output
func WithCompression(enabled bool) Option {
	return func(c *Converter) { c.compress = enabled }
}

// WithFsync syncs output files before they are renamed into place
func WithFsync(enabled bool) Option {
	return func(c *Converter) { c.fsync = enabled }
}

// WithLabel sets the invoker name written into the first ATR
func WithLabel(label string) Option {
	return func(c *Converter) { c.label = label }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Converter) { c.now = now }
}

// Converter runs conversion jobs. It holds no per-job state and is safe for
// concurrent use.
type Converter struct {
	meta     *MetaConfig
	log      logger.Logger
	metrics  *metrics.Metrics
	recorder Recorder
	policy   codec.LossPolicy
	compress bool
	fsync    bool
	label    string
	now      func() time.Time
}

// NewConverter creates a converter using meta for every job. A nil meta uses
// head and site 1 with no overrides.
func NewConverter(meta *MetaConfig, opts ...Option) *Converter {
	if meta == nil {
		meta = DefaultMetaConfig(1, 1)
	}
	c := &Converter{
		meta:  meta,
		log:   logger.Discard(),
		label: "CLI",
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ConvertFile converts job.Input into job.Output. The output appears only if
// every record was written; on failure any previous file at job.Output is
// left untouched.
func (c *Converter) ConvertFile(ctx context.Context, job Job) (*Result, error) {
	started := c.now()
	res := &Result{ID: ksuid.New(), Input: job.Input, Output: job.Output}
	log := c.log.With("job", res.ID.String(), "input", job.Input)

	done := c.metrics.JobStarted()
	defer done()

	err := c.convert(ctx, job, res, log)
	res.Duration = c.now().Sub(started)

	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusFailed
		log.Error("conversion failed", "error", err)
	} else {
		log.Info("conversion complete", "output", job.Output, "devices", res.Devices, "records", res.Records, "bytes", res.Bytes)
	}
	c.metrics.ObserveJob(status, res.Duration)
	c.record(res, started, err, log)

	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Converter) convert(ctx context.Context, job Job, res *Result, log logger.Logger) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := os.ReadFile(job.Input)
	if err != nil {
		return errors.Wrap(err, "read input")
	}
	res.Fingerprint = ledger.Fingerprint(data)

	parsed, err := csvsource.Parse(bytes.NewReader(data))
	if err != nil {
		return errors.Wrapf(err, "parse %s", job.Input)
	}
	if len(parsed.Devices) == 0 {
		return errors.Wrapf(ErrNoDevices, "in %s", job.Input)
	}
	res.Devices = len(parsed.Devices)

	sink, err := store.NewFileSink(store.SinkConfig{
		FilePath: job.Output,
		Compress: c.compress,
		Fsync:    c.fsync,
	})
	if err != nil {
		return err
	}

	enc := codec.NewEncoder(sink, codec.WithLossPolicy(c.policy), codec.WithLogger(log))
	if err := c.writeRecords(ctx, enc, parsed, filepath.Base(job.Input)); err != nil {
		if abortErr := sink.Abort(); abortErr != nil {
			log.Warn("failed to remove temporary output", "path", sink.TempPath(), "error", abortErr)
		}
		return err
	}
	if err := sink.Commit(); err != nil {
		return err
	}

	stats := enc.Stats()
	res.Records = stats.Records
	res.Bytes = stats.Bytes
	res.LossyFields = stats.LossyFields
	c.metrics.AddRecords(stats.ByRecord)
	c.metrics.AddBytes(stats.Bytes)
	c.metrics.AddLossyFields(stats.LossyFields)
	return nil
}

// writeRecords emits FAR, ATR*, MIR, (PIR PTR* PRR)* and MRR in that order
func (c *Converter) writeRecords(ctx context.Context, enc *codec.Encoder, parsed *csvsource.Parsed, inputName string) error {
	now := c.now()
	timestamps := make([]int64, len(parsed.Devices))
	for i := range parsed.Devices {
		timestamps[i] = deviceTimestamp(&parsed.Devices[i], now)
	}
	setup, finish := timestamps[0], timestamps[0]
	for _, ts := range timestamps[1:] {
		setup = min(setup, ts)
		finish = max(finish, ts)
	}

	if err := enc.Write(codec.FAR, codec.Values{"CPU_TYPE": codec.Int(2), "STDF_VER": codec.Int(4)}); err != nil {
		return err
	}

	messages := append([]string{"stdfconv " + c.label + " input=" + inputName}, c.meta.ATREntries...)
	for _, msg := range messages {
		if err := enc.Write(codec.ATR, codec.Values{"MOD_TIM": codec.Int(now.Unix()), "CMD_LINE": codec.Text(msg)}); err != nil {
			return err
		}
	}

	if err := enc.Write(codec.MIR, mirValues(parsed, setup, c.meta)); err != nil {
		return err
	}

	head, site := int64(c.meta.HeadNumber), int64(c.meta.SiteNumber)
	allPassed := true
	for i := range parsed.Devices {
		if err := ctx.Err(); err != nil {
			return err
		}
		dev := &parsed.Devices[i]
		if !isPass(dev) {
			allPassed = false
		}
		if err := writeDevice(enc, parsed.Tests, dev, head, site); err != nil {
			return errors.Wrapf(err, "device %d", i+1)
		}
	}

	disposition := "F"
	if allPassed {
		disposition = "P"
	}
	return enc.Write(codec.MRR, codec.Values{
		"FINISH_T": codec.Int(finish),
		"DISP_COD": codec.Text(disposition),
		"USR_DESC": codec.Text("CSV to STDF conversion complete"),
		"EXC_DESC": codec.Text(""),
	})
}

func writeDevice(enc *codec.Encoder, tests []csvsource.TestDefinition, dev *csvsource.Device, head, site int64) error {
	if err := enc.Write(codec.PIR, codec.Values{"HEAD_NUM": codec.Int(head), "SITE_NUM": codec.Int(site)}); err != nil {
		return err
	}

	alarm := dev.Meta("Error Code")
	executed := 0
	for _, td := range tests {
		result, ok := parseResult(dev.Measurements[td.TestNumber])
		if !ok {
			continue
		}
		executed++
		err := enc.Write(codec.PTR, codec.Values{
			"TEST_NUM": codec.Int(td.TestNumber),
			"HEAD_NUM": codec.Int(head),
			"SITE_NUM": codec.Int(site),
			"TEST_FLG": codec.Int(0),
			"PARM_FLG": codec.Int(0),
			"RESULT":   codec.Float(result),
			"TEST_TXT": codec.Text(td.Name),
			"UNITS":    codec.Text(td.Unit),
			"LO_LIMIT": limitOrNaN(td.LowerLimit),
			"HI_LIMIT": limitOrNaN(td.UpperLimit),
			"LO_SPEC":  limitOrNaN(td.LowerLimit),
			"HI_SPEC":  limitOrNaN(td.UpperLimit),
			"RES_SCAL": codec.Int(0),
			"LLM_SCAL": codec.Int(0),
			"HLM_SCAL": codec.Int(0),
			"OPT_FLAG": codec.Int(0),
			"ALARM_ID": codec.Text(alarm),
		})
		if err != nil {
			return errors.Wrapf(err, "test %d", td.TestNumber)
		}
	}

	pass := isPass(dev)
	partFlag, bin := int64(1), int64(255)
	if pass {
		partFlag, bin = 0, 1
	}
	softBin := bin
	if code, ok := csvsource.ParseInt(dev.Meta("Error Code")); ok && code != 0 {
		softBin = code
	}
	x, _ := csvsource.ParseInt(dev.Meta("X_CID"))
	y, _ := csvsource.ParseInt(dev.Meta("Y_CID"))
	testTime, _ := csvsource.ParseInt(dev.Meta("Test Time"))

	return enc.Write(codec.PRR, codec.Values{
		"HEAD_NUM": codec.Int(head),
		"SITE_NUM": codec.Int(site),
		"PART_FLG": codec.Int(partFlag),
		"NUM_TEST": codec.Int(int64(executed)),
		"HARD_BIN": codec.Int(bin),
		"SOFT_BIN": codec.Int(softBin),
		"X_COORD":  codec.Int(x),
		"Y_COORD":  codec.Int(y),
		"TEST_T":   codec.Int(testTime),
		"PART_ID":  codec.Text(partID(dev)),
		"PART_TXT": codec.Text(dev.Meta("PRODUCT_PART")),
		"PART_FIX": codec.Bytes(nil),
	})
}

// mirValues maps the first device's metadata onto MIR fields, then applies
// the operator overrides
func mirValues(parsed *csvsource.Parsed, setup int64, meta *MetaConfig) codec.Values {
	first := parsed.Devices[0].Metadata
	get := func(key, fallback string) string {
		if v, ok := first[key]; ok {
			return v
		}
		return fallback
	}

	mode := get("TEST_MODE", "")
	if mode == "" {
		mode = "P"
	}

	text := map[string]string{
		"MODE_COD": mode[:1],
		"LOT_ID":   get("LOT_ID", "UNKNOWN"),
		"PART_TYP": get("PRODUCT_PART", ""),
		"NODE_NAM": get("Test_Location", ""),
		"TSTR_TYP": get("TESTER_TYPE", get("TESTER", "")),
		"JOB_NAM":  get("TEST_PROGRAM", get("Test_Name", "")),
		"JOB_REV":  get("REVISION", ""),
		"OPER_NAM": get("SFIS_State", ""),
		"EXEC_TYP": get("Model", ""),
		"EXEC_VER": get("TESTER", ""),
		"TEST_COD": get("Test_Name", ""),
		"TST_TEMP": get("Station", ""),
		"USER_TXT": "Generated via stdfconv",
		"PKG_TYP":  get("Package_Type", ""),
		"FAMLY_ID": get("PRODUCT_PART", ""),
		"DATE_COD": get("DATE", ""),
		"FACIL_ID": get("Test_Location", ""),
		"FLOOR_ID": get("Station", ""),
		"PROC_ID":  get("TEST_PROGRAM", ""),
		"OPER_FRQ": get("TEST_MODE", ""),
		"FLOW_ID":  get("Test_Type", ""),
		"SETUP_ID": get("Test_Location", ""),
		"SERL_NUM": get("TESTER", ""),
	}

	values := codec.Values{
		"SETUP_T":  codec.Int(setup),
		"START_T":  codec.Int(setup),
		"STAT_NUM": codec.Int(1),
	}
	for k, v := range text {
		values[k] = codec.Text(v)
	}
	for k, v := range meta.MIROverrides {
		values[k] = codec.Text(v)
	}
	return values
}

func deviceTimestamp(dev *csvsource.Device, now time.Time) int64 {
	if raw := dev.Meta("DATE"); raw != "" {
		for _, layout := range dateLayouts {
			if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
				return t.Unix()
			}
		}
	}
	return now.Unix()
}

func isPass(dev *csvsource.Device) bool {
	return strings.EqualFold(strings.TrimSpace(dev.Meta("Test Result")), "PASS")
}

// parseResult accepts any float literal, including NaN and infinities.
// Blank or unparseable cells mean the test did not run.
func parseResult(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	x, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	return x, true
}

func limitOrNaN(limit *float64) codec.Value {
	if limit == nil {
		return codec.Float(math.NaN())
	}
	return codec.Float(*limit)
}

func partID(dev *csvsource.Device) string {
	for _, key := range partIDKeys {
		if v := dev.Meta(key); v != "" {
			return v
		}
	}
	return dev.Meta("PRODUCT_PART")
}

func (c *Converter) record(res *Result, started time.Time, jobErr error, log logger.Logger) {
	if c.recorder == nil {
		return
	}
	entry := ledger.Entry{
		ID:          res.ID,
		Input:       res.Input,
		Output:      res.Output,
		Fingerprint: res.Fingerprint,
		Status:      ledger.StatusSuccess,
		Devices:     res.Devices,
		Records:     res.Records,
		Bytes:       res.Bytes,
		LossyFields: res.LossyFields,
		StartedAt:   started.UTC(),
		Duration:    res.Duration,
	}
	if jobErr != nil {
		entry.Status = ledger.StatusFailed
		entry.Error = jobErr.Error()
	}
	if _, err := c.recorder.Record(entry); err != nil {
		log.Warn("failed to record job in ledger", "error", err)
	}
}
