package api

import (
	"time"

	"github.com/segmentio/ksuid"

	"github.com/ssargent/stdfconv/pkg/ledger"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ServerConfig holds configuration for the status server
type ServerConfig struct {
	Addr   string // listen address, e.g. ":9102"
	APIKey string // when set, /api/v1 requires a matching X-API-Key header
}

// JobStore is the read side of the job ledger
type JobStore interface {
	List(limit int) ([]ledger.Entry, error)
	Get(id ksuid.KSUID) (*ledger.Entry, error)
}

// JobView is the JSON shape of a ledger entry
type JobView struct {
	ID          string    `json:"id"`
	Input       string    `json:"input"`
	Output      string    `json:"output"`
	Fingerprint string    `json:"fingerprint"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Devices     int       `json:"devices"`
	Records     int       `json:"records"`
	Bytes       int64     `json:"bytes"`
	LossyFields int       `json:"lossy_fields"`
	StartedAt   time.Time `json:"started_at"`
	DurationMS  int64     `json:"duration_ms"`
}

// HealthResponse is returned by /healthz
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

func newJobView(e ledger.Entry) JobView {
	return JobView{
		ID:          e.ID.String(),
		Input:       e.Input,
		Output:      e.Output,
		Fingerprint: fingerprintHex(e.Fingerprint),
		Status:      string(e.Status),
		Error:       e.Error,
		Devices:     e.Devices,
		Records:     e.Records,
		Bytes:       e.Bytes,
		LossyFields: e.LossyFields,
		StartedAt:   e.StartedAt,
		DurationMS:  e.Duration.Milliseconds(),
	}
}
