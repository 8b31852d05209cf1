// Package ledger keeps the history of conversion jobs in a pebble database.
//
// Keys:
//
//	job/<ksuid bytes>   JSON encoded Entry, time ordered
//	fp/<fingerprint>    ksuid bytes of the latest successful job for an input
package ledger

import (
	"encoding/binary"
	"io"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/goccy/go-json"
	"github.com/segmentio/ksuid"
)

var (
	jobPrefix = []byte("job/")
	fpPrefix  = []byte("fp/")
)

// ErrNotFound is returned when no entry exists for an id
var ErrNotFound = errors.New("ledger: entry not found")

// Status is the outcome of a job
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Entry describes one finished conversion job
type Entry struct {
	ID          ksuid.KSUID   `json:"id"`
	Input       string        `json:"input"`
	Output      string        `json:"output"`
	Fingerprint uint64        `json:"fingerprint"`
	Status      Status        `json:"status"`
	Error       string        `json:"error,omitempty"`
	Devices     int           `json:"devices"`
	Records     int           `json:"records"`
	Bytes       int64         `json:"bytes"`
	LossyFields int           `json:"lossy_fields"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
}

// Ledger is a job history store. It is safe for concurrent use.
type Ledger struct {
	db *pebble.DB
}

// Open opens or creates the ledger database in dir
func Open(dir string) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, errors.Wrapf(err, "create ledger dir %s", dir)
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open ledger %s", dir)
	}
	return &Ledger{db: db}, nil
}

// Record stores e. A zero ID is replaced with a new ksuid. Successful entries
// also become the fingerprint's latest match.
func (l *Ledger) Record(e Entry) (ksuid.KSUID, error) {
	if e.ID == ksuid.Nil {
		e.ID = ksuid.New()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return ksuid.Nil, errors.Wrap(err, "encode ledger entry")
	}

	batch := l.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(jobKey(e.ID), data, nil); err != nil {
		return ksuid.Nil, err
	}
	if e.Status == StatusSuccess {
		if err := batch.Set(fpKey(e.Fingerprint), e.ID.Bytes(), nil); err != nil {
			return ksuid.Nil, err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return ksuid.Nil, errors.Wrap(err, "commit ledger entry")
	}
	return e.ID, nil
}

// Get returns the entry with the given id
func (l *Ledger) Get(id ksuid.KSUID) (*Entry, error) {
	data, closer, err := l.db.Get(jobKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "id %s", id)
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	return decodeEntry(data)
}

// List returns up to limit entries, newest first. limit <= 0 returns all.
func (l *Ledger) List(limit int) ([]Entry, error) {
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: jobPrefix,
		UpperBound: prefixEnd(jobPrefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var entries []Entry
	for valid := iter.Last(); valid; valid = iter.Prev() {
		e, err := decodeEntry(iter.Value())
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
		if limit > 0 && len(entries) >= limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return entries, nil
}

// LookupFingerprint returns the latest successful entry for an input
// fingerprint
func (l *Ledger) LookupFingerprint(fp uint64) (*Entry, bool, error) {
	data, closer, err := l.db.Get(fpKey(fp))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	id, err := ksuid.FromBytes(data)
	closer.Close()
	if err != nil {
		return nil, false, errors.Wrap(err, "decode fingerprint target")
	}

	e, err := l.Get(id)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// Close closes the database
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Fingerprint hashes input bytes
func Fingerprint(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// FingerprintFile hashes the file at path without loading it into memory
func FingerprintFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, errors.Wrapf(err, "hash %s", path)
	}
	return h.Sum64(), nil
}

func decodeEntry(data []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errors.Wrap(err, "decode ledger entry")
	}
	return &e, nil
}

func jobKey(id ksuid.KSUID) []byte {
	return append(append([]byte{}, jobPrefix...), id.Bytes()...)
}

func fpKey(fp uint64) []byte {
	key := append([]byte{}, fpPrefix...)
	return binary.BigEndian.AppendUint64(key, fp)
}

func prefixEnd(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	end[len(end)-1]++
	return end
}
