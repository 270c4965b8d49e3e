package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DeafMist/opportunity-indexer/internal/logger"
	"github.com/DeafMist/opportunity-indexer/internal/models"
	"github.com/DeafMist/opportunity-indexer/internal/processing"
)

// Fetcher loads one Opportunity record.
type Fetcher interface {
	GetOpportunity(ctx context.Context, id string) (*models.Opportunity, error)
}

// Indexer persists an opportunity document.
type Indexer interface {
	IndexOpportunity(ctx context.Context, doc models.OpportunityDocument) error
}

// Pipeline runs extract, fetch, map and write for one input.
type Pipeline struct {
	fetcher Fetcher
	indexer Indexer
	source  string
	now     func() time.Time
	log     *slog.Logger
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithClock replaces time.Now for extracted_at stamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// New returns a pipeline stamping documents with source.
func New(fetcher Fetcher, indexer Indexer, source string, opts ...Option) *Pipeline {
	p := &Pipeline{
		fetcher: fetcher,
		indexer: indexer,
		source:  source,
		now:     time.Now,
		log:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Resolve extracts the ID from input and builds its document without
// writing it.
func (p *Pipeline) Resolve(ctx context.Context, input string) (models.OpportunityDocument, error) {
	id, err := processing.ExtractOpportunityID(input)
	if err != nil {
		return models.OpportunityDocument{}, err
	}

	rec, err := p.fetcher.GetOpportunity(ctx, id)
	if err != nil {
		return models.OpportunityDocument{}, err
	}

	return processing.MapOpportunity(*rec, p.source, p.now()), nil
}

// Write stores a document produced by Resolve.
func (p *Pipeline) Write(ctx context.Context, doc models.OpportunityDocument) error {
	if err := p.indexer.IndexOpportunity(ctx, doc); err != nil {
		return err
	}
	p.log.Info("opportunity indexed",
		slog.String("id", doc.OpportunityID),
		slog.String("source", doc.Source),
	)
	return nil
}

// Process runs the whole chain for one input and returns the stored document.
func (p *Pipeline) Process(ctx context.Context, input string) (models.OpportunityDocument, error) {
	doc, err := p.Resolve(ctx, input)
	if err != nil {
		return doc, err
	}
	if err := p.Write(ctx, doc); err != nil {
		return doc, fmt.Errorf("write %s: %w", doc.OpportunityID, err)
	}
	return doc, nil
}
