package graph

import (
	"sync"
	"time"

	"graphguard/backend/pkg/errors"
)

// ChangeLog is the append-only, monotonically sequenced record of committed
// mutations. It is the single authority for sequence numbers: appends take
// the write lock, so two concurrent appends can never draw the same number
// and the sequence is gapless by construction. Readers observe a consistent
// prefix and never block appenders for long; ReadSince is pure and
// idempotent so consumers can replay ranges freely.
type ChangeLog struct {
	mu      sync.RWMutex
	records []ChangeRecord
	seq     uint64
}

// NewChangeLog creates an empty change log starting at sequence 0
func NewChangeLog() *ChangeLog {
	return &ChangeLog{}
}

// Append assigns the next sequence number to a record and stores it.
// The Sequence and Timestamp fields of the input are overwritten.
func (l *ChangeLog) Append(record ChangeRecord) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	record.Sequence = l.seq
	record.Timestamp = time.Now().UTC()
	l.records = append(l.records, record)
	return l.seq
}

// AppendAll appends a batch of records contiguously, returning the last
// assigned sequence number. Records from one commit are never interleaved
// with another commit's.
func (l *ChangeLog) AppendAll(records []ChangeRecord) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	for i := range records {
		l.seq++
		records[i].Sequence = l.seq
		records[i].Timestamp = now
		l.records = append(l.records, records[i])
	}
	return l.seq
}

// CurrentSequence returns the highest assigned sequence number
func (l *ChangeLog) CurrentSequence() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}

// ReadSince returns up to limit records with sequence strictly greater than
// since, in sequence order. limit <= 0 means no limit. Safe to call
// concurrently with appends; the result is a consistent prefix snapshot.
func (l *ChangeLog) ReadSince(since uint64, limit int) []ChangeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if since >= l.seq {
		return nil
	}
	// Sequence numbers are gapless, so the record with sequence since+1
	// sits at index since.
	start := int(since)
	if start > len(l.records) {
		return nil
	}
	end := len(l.records)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]ChangeRecord, end-start)
	copy(out, l.records[start:end])
	return out
}

// ValidateContiguous checks that a batch of records read by a consumer is
// gapless and follows lastSeen. A gap means records were lost; the consumer
// must re-sync from a full snapshot rather than assume the hole is benign.
func ValidateContiguous(lastSeen uint64, records []ChangeRecord) error {
	expected := lastSeen + 1
	for _, record := range records {
		if record.Sequence != expected {
			return errors.NewSequenceGap(expected, record.Sequence)
		}
		expected++
	}
	return nil
}
