package convert

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMetaConfig_Defaults(t *testing.T) {
	cfg, err := LoadMetaConfig("", 4, 5)
	require.NoError(t, err)
	assert.Empty(t, cfg.MIROverrides)
	assert.Empty(t, cfg.ATREntries)
	assert.Equal(t, 4, cfg.HeadNumber)
	assert.Equal(t, 5, cfg.SiteNumber)
}

func TestLoadMetaConfig_File(t *testing.T) {
	cfg, err := LoadMetaConfig(filepath.Join("testdata", "meta.json"), 1, 1)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"LOT_ID": "OVERRIDE", "SETUP_T": "7"}, cfg.MIROverrides)
	assert.Equal(t, []string{"note one", "2"}, cfg.ATREntries)
	assert.Equal(t, 2, cfg.HeadNumber)
	assert.Equal(t, 3, cfg.SiteNumber)

	_, err = LoadMetaConfig(filepath.Join("testdata", "missing.json"), 1, 1)
	assert.Error(t, err)
}

func TestParseMetaConfig(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		want    *MetaConfig
		wantErr string
	}{
		{
			name: "malformed sections fall back to empty",
			doc:  `{"mir_overrides": ["x"], "atr_entries": {"a": 1}}`,
			want: &MetaConfig{MIROverrides: map[string]string{}, HeadNumber: 1, SiteNumber: 1},
		},
		{
			name: "scalars are stringified",
			doc:  `{"mir_overrides": {"A": 1.5, "B": true, "C": null, "D": {"x": 1}}}`,
			want: &MetaConfig{
				MIROverrides: map[string]string{"A": "1.5", "B": "true", "C": "", "D": `{"x":1}`},
				HeadNumber:   1,
				SiteNumber:   1,
			},
		},
		{
			name: "float head number truncates",
			doc:  `{"head_number": 3.9}`,
			want: &MetaConfig{MIROverrides: map[string]string{}, HeadNumber: 3, SiteNumber: 1},
		},
		{name: "array document", doc: `[1, 2]`, wantErr: "must be an object"},
		{name: "invalid json", doc: `{"a":`, wantErr: "decode metadata JSON"},
		{name: "bad head", doc: `{"head_number": "two"}`, wantErr: "head_number"},
		{name: "site out of range", doc: `{"site_number": 300}`, wantErr: "out of range"},
		{name: "wrong type", doc: `{"site_number": [1]}`, wantErr: "expected a number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMetaConfig([]byte(tt.doc), 1, 1)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
