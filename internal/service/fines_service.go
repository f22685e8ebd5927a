package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"traffic-fines-service/internal/classifier"
	"traffic-fines-service/internal/detection"
	"traffic-fines-service/internal/domain/violation"
	"traffic-fines-service/internal/ledger"
	"traffic-fines-service/internal/metrics"
	"traffic-fines-service/internal/query"
	"traffic-fines-service/internal/repository"
)

var ErrInvalidInput = errors.New("invalid input")

const (
	DefaultPage     = 1
	DefaultPageSize = 10
	MaxPageSize     = 100
)

type FinesService struct {
	ledger *ledger.Ledger
	log    zerolog.Logger
	now    func() time.Time
}

func NewFinesService(l *ledger.Ledger, log zerolog.Logger) *FinesService {
	return &FinesService{
		ledger: l,
		log:    log,
		now:    time.Now,
	}
}

type IngestResult struct {
	Index           int                       `json:"violation_idx"`
	Label           string                    `json:"label"`
	TotalViolations int                       `json:"total_violations"`
	Record          violation.ViolationRecord `json:"record"`
}

// Ingest classifies one detection, issues its fines and appends the record.
func (s *FinesService) Ingest(ctx context.Context, in detection.Input) (*IngestResult, error) {
	d, err := detection.Normalize(in)
	if err != nil {
		metrics.DetectionsIngestedTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	if d.Counts.Timestamp == "" {
		d.Counts.Timestamp = violation.FormatTime(s.now())
	} else if _, err := time.Parse(violation.TimestampLayout, d.Counts.Timestamp); err != nil {
		metrics.DetectionsIngestedTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: timestamp %q does not match %s",
			violation.ErrInvalidDetection, d.Counts.Timestamp, violation.TimestampLayout)
	}

	v := classifier.Classify(d)
	rec := violation.ViolationRecord{
		Image:           d.Counts.ImageID,
		Timestamp:       d.Counts.Timestamp,
		LicensePlate:    d.Plate,
		Detections:      d.Counts,
		Violations:      v,
		VehicleCount:    d.Counts.Motorbike,
		PersonCount:     d.Counts.Person,
		TotalViolations: v.Total(),
	}

	idx, stored, err := s.ledger.Append(ctx, rec)
	if err != nil {
		metrics.DetectionsIngestedTotal.WithLabelValues("failed").Inc()
		s.log.Error().
			Err(err).
			Str("image", rec.Image).
			Msg("failed to append violation record")
		return nil, err
	}
	metrics.DetectionsIngestedTotal.WithLabelValues("accepted").Inc()

	return &IngestResult{
		Index:           idx,
		Label:           classifier.Label(stored.Violations),
		TotalViolations: stored.TotalViolations,
		Record:          stored,
	}, nil
}

type RejectedInput struct {
	Position int    `json:"position"`
	ImageID  string `json:"image_id"`
	Reason   string `json:"reason"`
}

type BatchResult struct {
	Accepted []IngestResult  `json:"accepted"`
	Rejected []RejectedInput `json:"rejected"`
}

// IngestBatch ingests inputs in order. Invalid inputs are reported and
// skipped; a store failure stops the batch and is returned together with
// what was accepted so far.
func (s *FinesService) IngestBatch(ctx context.Context, inputs []detection.Input) (BatchResult, error) {
	res := BatchResult{
		Accepted: []IngestResult{},
		Rejected: []RejectedInput{},
	}
	for i, in := range inputs {
		out, err := s.Ingest(ctx, in)
		switch {
		case err == nil:
			res.Accepted = append(res.Accepted, *out)
		case errors.Is(err, violation.ErrInvalidDetection), errors.Is(err, violation.ErrIssuance):
			res.Rejected = append(res.Rejected, RejectedInput{
				Position: i,
				ImageID:  in.ImageID,
				Reason:   err.Error(),
			})
			s.log.Warn().Err(err).Int("position", i).Msg("skipping invalid detection")
		default:
			return res, fmt.Errorf("detection %d: %w", i, err)
		}
	}

	s.log.Info().
		Int("accepted", len(res.Accepted)).
		Int("rejected", len(res.Rejected)).
		Msg("processed detection batch")
	return res, nil
}

// ImportLegacy seeds an empty ledger from a report file written by the
// batch tooling. It is a no-op when the ledger already holds records.
func (s *FinesService) ImportLegacy(ctx context.Context, path string) (int, error) {
	if s.ledger.Count() > 0 {
		s.log.Debug().Str("path", path).Msg("ledger not empty, skipping seed import")
		return 0, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed report %s: %w", path, err)
	}
	records, err := repository.DecodeReport(data)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	return s.ledger.Import(ctx, records)
}

func (s *FinesService) ListViolations(page, pageSize int) (query.Page[violation.ViolationRecord], error) {
	records, total, err := s.ledger.Records(page, pageSize)
	if err != nil {
		return query.Page[violation.ViolationRecord]{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return query.NewPage(records, page, pageSize, total), nil
}

func (s *FinesService) GetViolation(index int) (violation.ViolationRecord, error) {
	return s.ledger.Get(index)
}

// ListFines lists fines across all records. An empty status means all
// fines; anything other than pending or paid is rejected.
func (s *FinesService) ListFines(status string, page, pageSize int) (query.Page[ledger.LedgerFine], error) {
	var filter *violation.FineStatus
	if status = strings.TrimSpace(strings.ToLower(status)); status != "" && status != "all" {
		st := violation.FineStatus(status)
		if !st.Valid() {
			return query.Page[ledger.LedgerFine]{}, fmt.Errorf("%w: unknown fine status %q", ErrInvalidInput, status)
		}
		filter = &st
	}

	fines, total, err := s.ledger.Fines(filter, page, pageSize)
	if err != nil {
		return query.Page[ledger.LedgerFine]{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return query.NewPage(fines, page, pageSize, total), nil
}

func (s *FinesService) MarkPaid(ctx context.Context, index int, fineID int64, method string) (violation.Fine, error) {
	if fineID <= 0 {
		return violation.Fine{}, fmt.Errorf("%w: fine_id is required", ErrInvalidInput)
	}
	return s.ledger.MarkPaid(ctx, index, fineID, strings.TrimSpace(method))
}

func (s *FinesService) Overview() query.Overview {
	return query.ComputeOverview(s.ledger.Snapshot())
}

func (s *FinesService) Timeline() []query.TimelineBucket {
	return query.Timeline(s.ledger.Snapshot())
}

func (s *FinesService) ViolationTypes() map[violation.ViolationType]query.TypeStats {
	return query.TypeBreakdown(s.ledger.Snapshot())
}

// ExportRows flattens every record for the CSV and JSON exports.
func (s *FinesService) ExportRows() []query.ExportRow {
	return query.ExportRows(s.ledger.Snapshot())
}

func (s *FinesService) FinesSummary() query.FinesSummary {
	return query.SummarizeFines(s.ledger.Snapshot())
}

type HealthStatus struct {
	Status     string `json:"status"`
	Store      string `json:"store"`
	StoreOK    bool   `json:"store_ok"`
	Records    int    `json:"records"`
	NextFineID int64  `json:"next_fine_id"`
	Timestamp  string `json:"timestamp"`
}

// Health reports whether the backing store is reachable. The returned
// error is non-nil when it is not.
func (s *FinesService) Health(ctx context.Context) (HealthStatus, error) {
	h := HealthStatus{
		Status:     "healthy",
		Store:      s.ledger.StoreName(),
		StoreOK:    true,
		Records:    s.ledger.Count(),
		NextFineID: s.ledger.NextFineID(),
		Timestamp:  violation.FormatTime(s.now()),
	}
	if err := s.ledger.Ping(ctx); err != nil {
		h.Status = "degraded"
		h.StoreOK = false
		return h, err
	}
	return h, nil
}

// ParsePage applies listing defaults. Empty, malformed or zero values fall
// back to page 1 and size 10; sizes above MaxPageSize are clamped.
// Negative values are rejected.
func ParsePage(pageStr, pageSizeStr string) (page, pageSize int, err error) {
	page, err = parsePageParam("page", pageStr, DefaultPage)
	if err != nil {
		return 0, 0, err
	}
	pageSize, err = parsePageParam("page_size", pageSizeStr, DefaultPageSize)
	if err != nil {
		return 0, 0, err
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize, nil
}

func parsePageParam(name, raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def, nil
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %s must not be negative", ErrInvalidInput, name)
	}
	if n == 0 {
		return def, nil
	}
	return n, nil
}
