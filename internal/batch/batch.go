package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DeafMist/opportunity-indexer/internal/failure"
	"github.com/DeafMist/opportunity-indexer/internal/logger"
	"github.com/DeafMist/opportunity-indexer/internal/models"
	"github.com/DeafMist/opportunity-indexer/internal/processing"
)

// Processor handles one input line.
type Processor interface {
	Process(ctx context.Context, input string) (models.OpportunityDocument, error)
}

// ItemFailure records why one line was not indexed.
type ItemFailure struct {
	Line    int          `json:"line"`
	Input   string       `json:"input"`
	Kind    failure.Kind `json:"kind"`
	Message string       `json:"message"`
}

// Summary is the outcome of one batch run.
type Summary struct {
	RunID      string        `json:"run_id"`
	Source     string        `json:"source,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Total      int           `json:"total"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Cancelled  bool          `json:"cancelled"`
	IndexedIDs []string      `json:"indexed_ids"`
	Failures   []ItemFailure `json:"failures"`
}

// Duration is the wall-clock time of the run.
func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// OK reports whether every processed item succeeded.
func (s Summary) OK() bool {
	return s.Failed == 0 && !s.Cancelled
}

// FailuresByKind counts failures per error kind.
func (s Summary) FailuresByKind() map[failure.Kind]int {
	out := make(map[failure.Kind]int)
	for _, f := range s.Failures {
		out[f.Kind]++
	}
	return out
}

func (s *Summary) fail(log *slog.Logger, line int, input string, err error) {
	s.Failed++
	kind := failure.KindOf(err)
	s.Failures = append(s.Failures, ItemFailure{Line: line, Input: input, Kind: kind, Message: err.Error()})
	log.Warn("item failed",
		slog.Int("line", line),
		slog.String("kind", kind.String()),
		slog.Any("err", err),
	)
}

// Driver feeds lines to a Processor one at a time.
type Driver struct {
	proc Processor
	log  *slog.Logger
	now  func() time.Time
	// Name labels the input in logs, usually the file path.
	Name string
}

// NewDriver returns a driver for proc.
func NewDriver(proc Processor, log *slog.Logger) *Driver {
	if log == nil {
		log = logger.Discard()
	}
	return &Driver{proc: proc, log: log, now: time.Now}
}

// Run processes every non-blank, non-comment line of r in order. Item
// failures never stop the run. A cancelled context stops before the next
// item; lines not reached are not counted. The error is only set when r
// cannot be read.
func (d *Driver) Run(ctx context.Context, r io.Reader) (Summary, error) {
	s := Summary{
		RunID:      uuid.NewString(),
		StartedAt:  d.now().UTC(),
		IndexedIDs: []string{},
		Failures:   []ItemFailure{},
	}
	log := d.log.With(slog.String("run_id", s.RunID))
	log.Info("batch started", slog.String("input", d.Name))

	err := processing.ScanLines(r, func(line int, raw string, lineErr error) bool {
		input := strings.TrimSpace(raw)
		if lineErr == nil && processing.IsSkippable(input) {
			return true
		}
		if ctx.Err() != nil {
			s.Cancelled = true
			log.Warn("batch cancelled", slog.Int("line", line))
			return false
		}

		s.Total++
		if lineErr != nil {
			s.fail(log, line, "", lineErr)
			return true
		}
		doc, err := d.proc.Process(ctx, input)
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				s.Total--
				s.Cancelled = true
				log.Warn("batch cancelled", slog.Int("line", line))
				return false
			}
			s.fail(log, line, input, err)
			return true
		}
		s.Succeeded++
		s.IndexedIDs = append(s.IndexedIDs, doc.OpportunityID)
		log.Debug("item indexed", slog.Int("line", line), slog.String("id", doc.OpportunityID))
		return true
	})
	var readErr error
	if err != nil {
		readErr = fmt.Errorf("read batch input: %w", err)
	}

	s.FinishedAt = d.now().UTC()
	log.Info("batch finished",
		slog.Int("total", s.Total),
		slog.Int("succeeded", s.Succeeded),
		slog.Int("failed", s.Failed),
		slog.Bool("cancelled", s.Cancelled),
		slog.Duration("took", s.Duration()),
	)
	return s, readErr
}
