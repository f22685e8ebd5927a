package issuer

import (
	"fmt"
	"sort"

	"traffic-fines-service/internal/domain/violation"
)

// BaseFineID is the first identifier handed out by an empty ledger.
const BaseFineID int64 = 1001

// Sequence hands out fine identifiers. Implementations must never return
// the same value twice.
type Sequence interface {
	Next() int64
}

// Counter is a monotonic in-memory Sequence. It is not safe for concurrent
// use; the ledger serializes access under its write lock.
type Counter struct {
	next int64
}

func NewCounter() *Counter {
	return &Counter{next: BaseFineID}
}

func (c *Counter) Next() int64 {
	id := c.next
	c.next++
	return id
}

// Peek returns the value the next call to Next will return.
func (c *Counter) Peek() int64 {
	return c.next
}

// Resume positions the counter after maxID, never below BaseFineID.
func (c *Counter) Resume(maxID int64) {
	c.next = BaseFineID
	if maxID+1 > c.next {
		c.next = maxID + 1
	}
}

// Reset restores a value previously obtained from Peek. Used to roll back
// allocations when a write is not persisted.
func (c *Counter) Reset(next int64) {
	c.next = next
}

// Issue prices every instance in v as a pending fine. Types are processed
// in violation.AllTypes order; identifiers come from seq. Unknown types
// fail the whole call before any identifier is consumed.
func Issue(v violation.Violations, timestamp string, seq Sequence) (violation.FineLedgerEntry, error) {
	var unknown []string
	for t := range v {
		if !t.Valid() {
			unknown = append(unknown, string(t))
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return violation.FineLedgerEntry{}, fmt.Errorf("%w: unknown violation types %v", violation.ErrIssuance, unknown)
	}

	entry := violation.FineLedgerEntry{FinesList: []violation.Fine{}}
	for _, t := range violation.AllTypes() {
		amount, _ := violation.UnitFine(t)
		for range v[t] {
			entry.FinesList = append(entry.FinesList, violation.Fine{
				FineID:        seq.Next(),
				ViolationType: t,
				Amount:        amount,
				Status:        violation.FineStatusPending,
				IssuedDate:    timestamp,
			})
			entry.TotalFines += amount
		}
	}
	entry.PendingFines = entry.TotalFines
	return entry, nil
}

// MaxFineID returns the largest fine id present in records, or 0.
func MaxFineID(records []violation.ViolationRecord) int64 {
	var highest int64
	for _, r := range records {
		for _, f := range r.Fines.FinesList {
			if f.FineID > highest {
				highest = f.FineID
			}
		}
	}
	return highest
}
