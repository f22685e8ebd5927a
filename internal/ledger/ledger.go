// Package ledger holds the violation records and their fines in memory,
// backed by a repository.Store. All mutations run under one write lock
// that spans mutate, persist and publish, so readers observe a fine either
// fully pending or fully paid.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"traffic-fines-service/internal/domain/violation"
	"traffic-fines-service/internal/issuer"
	"traffic-fines-service/internal/metrics"
	"traffic-fines-service/internal/query"
	"traffic-fines-service/internal/repository"
)

const DefaultPaymentMethod = "cash"

// LedgerFine is a fine together with the record it belongs to.
type LedgerFine struct {
	violation.Fine
	ViolationIndex     int    `json:"violation_index"`
	ViolationTimestamp string `json:"violation_timestamp"`
}

type Ledger struct {
	mu      sync.RWMutex
	store   repository.Store
	records []violation.ViolationRecord
	seq     *issuer.Counter

	log          zerolog.Logger
	storeTimeout time.Duration
	loadAttempts int
	retryBackoff time.Duration
	now          func() time.Time
}

type Option func(*Ledger)

func WithLogger(log zerolog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

func WithStoreTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.storeTimeout = d
		}
	}
}

// WithLoadRetry sets how many times the initial load is attempted and the
// first backoff interval, which doubles between attempts.
func WithLoadRetry(attempts int, backoff time.Duration) Option {
	return func(l *Ledger) {
		if attempts > 0 {
			l.loadAttempts = attempts
		}
		if backoff > 0 {
			l.retryBackoff = backoff
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Open loads the ledger from store, repairs historical data and resumes
// the fine id sequence after the highest id on record.
func Open(ctx context.Context, store repository.Store, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		store:        store,
		seq:          issuer.NewCounter(),
		log:          zerolog.Nop(),
		storeTimeout: 5 * time.Second,
		loadAttempts: 3,
		retryBackoff: 200 * time.Millisecond,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	records, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range records {
		l.repair(i, &records[i])
	}

	l.seq.Resume(issuer.MaxFineID(records))
	l.renumber(records, map[int64]struct{}{}, 0)

	l.records = records
	metrics.LedgerRecords.Set(float64(len(records)))

	l.log.Info().
		Str("store", store.Name()).
		Int("records", len(records)).
		Int64("next_fine_id", l.seq.Peek()).
		Msg("ledger loaded")
	return l, nil
}

func (l *Ledger) load(ctx context.Context) ([]violation.ViolationRecord, error) {
	backoff := l.retryBackoff
	var lastErr error
	for attempt := 1; attempt <= l.loadAttempts; attempt++ {
		loadCtx, cancel := context.WithTimeout(ctx, l.storeTimeout)
		records, err := l.store.Load(loadCtx)
		cancel()
		if err == nil {
			return records, nil
		}
		lastErr = err
		l.log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", l.loadAttempts).
			Msg("failed to load ledger")

		if attempt == l.loadAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", violation.ErrStoreUnavailable, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("%w: %w", violation.ErrStoreUnavailable, lastErr)
}

// renumber gives every fine in records whose id is already in used, or is
// not positive, a fresh id from the sequence. The first holder of an id
// keeps it. used is extended in place.
func (l *Ledger) renumber(records []violation.ViolationRecord, used map[int64]struct{}, base int) int {
	changed := 0
	for i := range records {
		list := records[i].Fines.FinesList
		for j := range list {
			id := list[j].FineID
			if _, taken := used[id]; taken || id <= 0 {
				fresh := l.seq.Next()
				l.log.Warn().
					Int("index", base+i).
					Int64("fine_id", id).
					Int64("new_fine_id", fresh).
					Msg("renumbered duplicate fine id")
				list[j].FineID = fresh
				id = fresh
				changed++
			}
			used[id] = struct{}{}
		}
	}
	return changed
}

// repair drops retired violation types and recomputes fine totals
// on records written by older tooling.
func (l *Ledger) repair(idx int, rec *violation.ViolationRecord) {
	if rec.Violations == nil {
		rec.Violations = violation.Violations{}
	}
	if dropped := violation.DropRetired(rec.Violations); len(dropped) > 0 {
		rec.TotalViolations = rec.Violations.Total()
		l.log.Warn().Int("index", idx).Interface("dropped", dropped).Msg("dropped retired violation types")
	}
	if rec.Fines.FinesList == nil {
		rec.Fines.FinesList = []violation.Fine{}
	}
	if rec.Fines.Reconcile() {
		l.log.Warn().
			Int("index", idx).
			Int64("total_fines", rec.Fines.TotalFines).
			Int64("paid_fines", rec.Fines.PaidFines).
			Msg("reconciled fine totals")
	}
}

func (l *Ledger) persist(ctx context.Context, records []violation.ViolationRecord) error {
	ctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	start := time.Now()
	err := l.store.Save(ctx, records)
	metrics.ObserveSave(time.Since(start), err)
	if err != nil {
		l.log.Error().Err(err).Str("store", l.store.Name()).Msg("failed to persist ledger")
		return fmt.Errorf("%w: %w", violation.ErrStoreUnavailable, err)
	}
	return nil
}

// Append issues fines for rec's violations and stores it as a new record.
// Nothing is appended and no fine ids are consumed unless the store
// confirms the write.
func (l *Ledger) Append(ctx context.Context, rec violation.ViolationRecord) (int, violation.ViolationRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec = rec.Clone()
	if rec.Violations == nil {
		rec.Violations = violation.Violations{}
	}

	mark := l.seq.Peek()
	entry, err := issuer.Issue(rec.Violations, rec.Timestamp, l.seq)
	if err != nil {
		return -1, violation.ViolationRecord{}, err
	}
	rec.Fines = entry
	rec.TotalViolations = rec.Violations.Total()

	n := len(l.records)
	next := append(l.records[:n:n], rec)
	if err := l.persist(ctx, next); err != nil {
		l.seq.Reset(mark)
		return -1, violation.ViolationRecord{}, err
	}
	l.records = next

	for _, f := range rec.Fines.FinesList {
		metrics.FinesIssuedTotal.WithLabelValues(string(f.ViolationType)).Inc()
	}
	metrics.LedgerRecords.Set(float64(len(next)))

	l.log.Info().
		Int("index", n).
		Str("image", rec.Image).
		Int("violations", rec.TotalViolations).
		Int("fines", len(rec.Fines.FinesList)).
		Int64("total_fines", rec.Fines.TotalFines).
		Msg("violation record added")
	return n, rec.Clone(), nil
}

// Import appends records produced by older tooling in one write. Records
// that already carry fines keep them, except that a fine id already used
// by the ledger or by an earlier imported fine is replaced with a fresh
// one. Records with violations but no fines get fines issued after the
// highest id seen anywhere.
func (l *Ledger) Import(ctx context.Context, records []violation.ViolationRecord) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.records)
	incoming := make([]violation.ViolationRecord, len(records))
	for i, rec := range records {
		incoming[i] = rec.Clone()
		l.repair(n+i, &incoming[i])
	}

	mark := l.seq.Peek()
	highest := issuer.MaxFineID(l.records)
	if m := issuer.MaxFineID(incoming); m > highest {
		highest = m
	}
	l.seq.Resume(highest)

	used := make(map[int64]struct{})
	for _, rec := range l.records {
		for _, f := range rec.Fines.FinesList {
			used[f.FineID] = struct{}{}
		}
	}
	renumbered := l.renumber(incoming, used, n)

	issued := 0
	for i := range incoming {
		rec := &incoming[i]
		if len(rec.Fines.FinesList) > 0 || rec.Violations.Total() == 0 {
			continue
		}
		entry, err := issuer.Issue(rec.Violations, rec.Timestamp, l.seq)
		if err != nil {
			l.seq.Reset(mark)
			return 0, fmt.Errorf("record %d: %w", i, err)
		}
		rec.Fines = entry
		rec.TotalViolations = rec.Violations.Total()
		issued += len(entry.FinesList)
	}

	next := append(l.records[:n:n], incoming...)
	if err := l.persist(ctx, next); err != nil {
		l.seq.Reset(mark)
		return 0, err
	}
	l.records = next
	metrics.LedgerRecords.Set(float64(len(next)))

	l.log.Info().
		Int("records", len(incoming)).
		Int("fines_issued", issued).
		Int("fines_renumbered", renumbered).
		Int64("next_fine_id", l.seq.Peek()).
		Msg("imported violation records")
	return len(incoming), nil
}

// MarkPaid moves one pending fine to paid. A fine that is already paid
// yields ErrAlreadyPaid and leaves the ledger untouched.
func (l *Ledger) MarkPaid(ctx context.Context, index int, fineID int64, method string) (violation.Fine, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if index < 0 || index >= len(l.records) {
		return violation.Fine{}, fmt.Errorf("%w: violation %d", violation.ErrNotFound, index)
	}

	rec := l.records[index].Clone()
	pos := -1
	for i, f := range rec.Fines.FinesList {
		if f.FineID == fineID {
			pos = i
			break
		}
	}
	if pos < 0 {
		return violation.Fine{}, fmt.Errorf("%w: fine %d in violation %d", violation.ErrNotFound, fineID, index)
	}

	fine := &rec.Fines.FinesList[pos]
	if fine.Status == violation.FineStatusPaid {
		return violation.Fine{}, fmt.Errorf("%w: fine %d", violation.ErrAlreadyPaid, fineID)
	}

	if method == "" {
		method = DefaultPaymentMethod
	}
	paidAt := violation.FormatTime(l.now())
	fine.Status = violation.FineStatusPaid
	fine.PaidDate = &paidAt
	fine.PaymentMethod = &method

	pending := rec.Fines.PendingFines - fine.Amount
	if pending < 0 {
		pending = 0
	}
	rec.Fines.PendingFines = pending
	rec.Fines.PaidFines += fine.Amount

	next := make([]violation.ViolationRecord, len(l.records))
	copy(next, l.records)
	next[index] = rec
	if err := l.persist(ctx, next); err != nil {
		return violation.Fine{}, err
	}
	l.records = next

	metrics.FinesPaidTotal.Inc()
	metrics.FinesPaidAmountTotal.Add(float64(fine.Amount))

	l.log.Info().
		Int("index", index).
		Int64("fine_id", fineID).
		Int64("amount", fine.Amount).
		Str("payment_method", method).
		Msg("fine marked as paid")
	return rec.Clone().Fines.FinesList[pos], nil
}

// Get returns a copy of the record at index.
func (l *Ledger) Get(index int) (violation.ViolationRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if index < 0 || index >= len(l.records) {
		return violation.ViolationRecord{}, fmt.Errorf("%w: violation %d", violation.ErrNotFound, index)
	}
	return l.records[index].Clone(), nil
}

// Records returns one page of records in insertion order and the total.
func (l *Ledger) Records(page, pageSize int) ([]violation.ViolationRecord, int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := len(l.records)
	start, end, err := query.Paginate(total, page, pageSize)
	if err != nil {
		return nil, 0, err
	}
	out := make([]violation.ViolationRecord, 0, end-start)
	for _, rec := range l.records[start:end] {
		out = append(out, rec.Clone())
	}
	return out, total, nil
}

// Fines returns one page of fines in issuance order, optionally filtered by
// status, and the number of fines matching the filter.
func (l *Ledger) Fines(status *violation.FineStatus, page, pageSize int) ([]LedgerFine, int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var matched []LedgerFine
	for idx, rec := range l.records {
		for _, f := range rec.Fines.FinesList {
			if status != nil && f.Status != *status {
				continue
			}
			matched = append(matched, LedgerFine{
				Fine:               copyFine(f),
				ViolationIndex:     idx,
				ViolationTimestamp: rec.Timestamp,
			})
		}
	}

	total := len(matched)
	start, end, err := query.Paginate(total, page, pageSize)
	if err != nil {
		return nil, 0, err
	}
	out := make([]LedgerFine, end-start)
	copy(out, matched[start:end])
	return out, total, nil
}

// Snapshot returns a deep copy of every record for read-only projections.
func (l *Ledger) Snapshot() []violation.ViolationRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]violation.ViolationRecord, len(l.records))
	for i, rec := range l.records {
		out[i] = rec.Clone()
	}
	return out
}

func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// NextFineID is the id the next issued fine will receive.
func (l *Ledger) NextFineID() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq.Peek()
}

func (l *Ledger) StoreName() string {
	return l.store.Name()
}

// Ping checks that the backing store is reachable.
func (l *Ledger) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()
	if err := l.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", violation.ErrStoreUnavailable, err)
	}
	return nil
}

func copyFine(f violation.Fine) violation.Fine {
	if f.PaidDate != nil {
		d := *f.PaidDate
		f.PaidDate = &d
	}
	if f.PaymentMethod != nil {
		m := *f.PaymentMethod
		f.PaymentMethod = &m
	}
	return f
}
