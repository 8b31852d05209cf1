package convert

import (
	"bytes"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"
)

// MetaConfig carries operator supplied overrides for one or more jobs
type MetaConfig struct {
	MIROverrides map[string]string
	ATREntries   []string
	HeadNumber   int
	SiteNumber   int
}

// DefaultMetaConfig returns a MetaConfig with no overrides
func DefaultMetaConfig(head, site int) *MetaConfig {
	return &MetaConfig{
		MIROverrides: map[string]string{},
		HeadNumber:   head,
		SiteNumber:   site,
	}
}

// LoadMetaConfig reads the metadata JSON at path. An empty path returns the
// defaults.
func LoadMetaConfig(path string, head, site int) (*MetaConfig, error) {
	if path == "" {
		return DefaultMetaConfig(head, site), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read metadata file")
	}
	cfg, err := ParseMetaConfig(data, head, site)
	if err != nil {
		return nil, errors.Wrapf(err, "metadata file %s", path)
	}
	return cfg, nil
}

// ParseMetaConfig decodes a metadata document. The document must be a JSON
// object; a malformed "mir_overrides" or "atr_entries" section is ignored and
// scalar values are converted to strings.
func ParseMetaConfig(data []byte, head, site int) (*MetaConfig, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "decode metadata JSON")
	}
	raw, ok := doc.(map[string]interface{})
	if !ok {
		return nil, errors.New("metadata JSON must be an object")
	}

	cfg := DefaultMetaConfig(head, site)
	if overrides, ok := raw["mir_overrides"].(map[string]interface{}); ok {
		for k, v := range overrides {
			cfg.MIROverrides[k] = stringify(v)
		}
	}
	if entries, ok := raw["atr_entries"].([]interface{}); ok {
		for _, v := range entries {
			cfg.ATREntries = append(cfg.ATREntries, stringify(v))
		}
	}

	var err error
	if v, ok := raw["head_number"]; ok {
		if cfg.HeadNumber, err = metaInt("head_number", v); err != nil {
			return nil, err
		}
	}
	if v, ok := raw["site_number"]; ok {
		if cfg.SiteNumber, err = metaInt("site_number", v); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func stringify(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// metaInt accepts JSON numbers (truncated) and integer strings, in the
// U1 range used by head and site numbers
func metaInt(key string, v interface{}) (int, error) {
	var n int64
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		if err != nil || math.IsInf(f, 0) {
			return 0, errors.Newf("%s: invalid number %q", key, x.String())
		}
		n = int64(math.Trunc(f))
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, errors.Newf("%s: invalid integer %q", key, x)
		}
		n = parsed
	default:
		return 0, errors.Newf("%s: expected a number, got %T", key, v)
	}
	if n < 0 || n > math.MaxUint8 {
		return 0, errors.Newf("%s: %d out of range 0-255", key, n)
	}
	return int(n), nil
}
