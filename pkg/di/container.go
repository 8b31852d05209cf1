// Package di provides dependency injection container
package di

import (
	"github.com/segmentio/ksuid"

	"github.com/ssargent/stdfconv/pkg/ledger"
	"github.com/ssargent/stdfconv/pkg/metrics"
)

// JobLedger is everything the commands need from the job history store
type JobLedger interface {
	Record(e ledger.Entry) (ksuid.KSUID, error)
	Get(id ksuid.KSUID) (*ledger.Entry, error)
	List(limit int) ([]ledger.Entry, error)
	LookupFingerprint(fp uint64) (*ledger.Entry, bool, error)
	Close() error
}

// LedgerOpener opens the ledger stored in dir
type LedgerOpener func(dir string) (JobLedger, error)

// Container holds all the dependencies for the application
type Container struct {
	ledgerOpener LedgerOpener
	metrics      *metrics.Metrics
}

// NewContainer creates a new dependency injection container
func NewContainer() *Container {
	return &Container{
		ledgerOpener: func(dir string) (JobLedger, error) { return ledger.Open(dir) },
		metrics:      metrics.New(),
	}
}

// OpenLedger opens the job ledger in dir
func (c *Container) OpenLedger(dir string) (JobLedger, error) {
	return c.ledgerOpener(dir)
}

// Metrics returns the process wide metrics
func (c *Container) Metrics() *metrics.Metrics {
	return c.metrics
}

// SetLedgerOpener allows overriding how the ledger is opened (for testing)
func (c *Container) SetLedgerOpener(opener LedgerOpener) {
	c.ledgerOpener = opener
}
