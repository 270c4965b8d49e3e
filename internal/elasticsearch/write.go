package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cenkalti/backoff/v5"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/elastic/go-elasticsearch/v8/esutil"

	"github.com/DeafMist/opportunity-indexer/internal/failure"
	"github.com/DeafMist/opportunity-indexer/internal/models"
	"github.com/DeafMist/opportunity-indexer/internal/retry"
)

// IndexOpportunity upserts doc under its opportunity ID.
func (c *Client) IndexOpportunity(ctx context.Context, doc models.OpportunityDocument) error {
	return c.IndexDocument(ctx, doc.OpportunityID, doc)
}

// IndexDocument writes doc with the given ID, replacing any previous
// version. Unavailable clusters are retried with backoff.
func (c *Client) IndexDocument(ctx context.Context, id string, doc any) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal doc: %w", err)
	}

	_, err = retry.Do(ctx, c.retry, c.log, "index document", func() (struct{}, error) {
		req := esapi.IndexRequest{
			Index:      c.index,
			DocumentID: id,
			Body:       bytes.NewReader(payload),
			Refresh:    c.refresh,
		}

		res, err := req.Do(ctx, c.es)
		if err != nil {
			if ctx.Err() != nil {
				return struct{}{}, backoff.Permanent(ctx.Err())
			}
			return struct{}{}, failure.New(failure.IndexUnavailable, "index document", err)
		}
		defer res.Body.Close()

		if res.IsError() {
			err := classify("index document", res)
			if failure.KindOf(err).Retryable() {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	})
	if err != nil {
		return fmt.Errorf("index %s/%s: %w", c.index, id, err)
	}

	c.log.Debug("document indexed", slog.String("index", c.index), slog.String("id", id))
	return nil
}

// BulkDoc is one document for BulkIndex.
type BulkDoc struct {
	ID   string
	Body any
}

// BulkFailure describes a document the cluster rejected.
type BulkFailure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// BulkResult summarises a bulk run.
type BulkResult struct {
	Indexed  uint64        `json:"indexed"`
	Failed   uint64        `json:"failed"`
	Failures []BulkFailure `json:"failures,omitempty"`
}

// BulkIndex upserts docs by ID through a single-worker bulk indexer.
func (c *Client) BulkIndex(ctx context.Context, docs []BulkDoc) (*BulkResult, error) {
	var (
		mu       sync.Mutex
		failures []BulkFailure
	)

	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:     c.es,
		Index:      c.index,
		NumWorkers: 1,
		Refresh:    c.refresh,
		OnError: func(_ context.Context, err error) {
			c.log.Error("bulk indexer", slog.Any("err", err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create bulk indexer: %w", err)
	}

	for _, d := range docs {
		payload, err := json.Marshal(d.Body)
		if err != nil {
			_ = bi.Close(ctx)
			return nil, fmt.Errorf("marshal doc %s: %w", d.ID, err)
		}

		err = bi.Add(ctx, esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: d.ID,
			Body:       bytes.NewReader(payload),
			OnFailure: func(_ context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				reason := res.Error.Type + ": " + res.Error.Reason
				if err != nil {
					reason = err.Error()
				}
				mu.Lock()
				failures = append(failures, BulkFailure{ID: item.DocumentID, Reason: reason})
				mu.Unlock()
			},
		})
		if err != nil {
			_ = bi.Close(ctx)
			return nil, failure.New(failure.IndexUnavailable, "bulk add", err)
		}
	}

	if err := bi.Close(ctx); err != nil {
		return nil, failure.New(failure.IndexUnavailable, "bulk flush", err)
	}

	stats := bi.Stats()
	c.log.Info("bulk indexed",
		slog.String("index", c.index),
		slog.Uint64("indexed", stats.NumIndexed),
		slog.Uint64("failed", stats.NumFailed),
	)

	mu.Lock()
	defer mu.Unlock()
	return &BulkResult{Indexed: stats.NumIndexed, Failed: stats.NumFailed, Failures: failures}, nil
}
