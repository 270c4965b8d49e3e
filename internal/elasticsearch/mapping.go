package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/cenkalti/backoff/v5"

	"github.com/DeafMist/opportunity-indexer/internal/failure"
	"github.com/DeafMist/opportunity-indexer/internal/retry"
)

// Field is one entry of an index mapping.
type Field struct {
	Type   string           `json:"type"`
	Format string           `json:"format,omitempty"`
	Fields map[string]Field `json:"fields,omitempty"`
}

// Mapping lists the expected field types of an index.
type Mapping map[string]Field

func textWithKeyword() Field {
	return Field{Type: "text", Fields: map[string]Field{"keyword": {Type: "keyword"}}}
}

// OpportunityMapping is the fixed mapping of the opportunity index.
var OpportunityMapping = Mapping{
	"opportunity_id":   {Type: "keyword"},
	"opportunity_name": textWithKeyword(),
	"account_name":     textWithKeyword(),
	"close_date":       {Type: "date"},
	"amount":           {Type: "double"},
	"tcv_amount":       {Type: "double"},
	"extracted_at":     {Type: "date"},
	"source":           {Type: "keyword"},
}

// ClosedOpportunityMapping is the mapping of the account report index.
var ClosedOpportunityMapping = Mapping{
	"opportunity_id":     {Type: "keyword"},
	"opportunity_name":   textWithKeyword(),
	"account_id":         {Type: "keyword"},
	"account_name":       textWithKeyword(),
	"close_date":         {Type: "date"},
	"amount":             {Type: "double"},
	"stage_name":         {Type: "keyword"},
	"is_won":             {Type: "boolean"},
	"is_closed":          {Type: "boolean"},
	"type":               {Type: "keyword"},
	"probability":        {Type: "double"},
	"created_date":       {Type: "date"},
	"last_modified_date": {Type: "date"},
	"owner_name":         {Type: "keyword"},
	"owner_id":           {Type: "keyword"},
	"description":        {Type: "text"},
	"lead_source":        {Type: "keyword"},
	"forecast_category":  {Type: "keyword"},
	"extracted_at":       {Type: "date"},
	"source":             {Type: "keyword"},
}

// Conflicts lists fields whose live type differs from m, including multi-field
// sub-mappings such as account_name.keyword. Top-level fields absent from live
// are not conflicts; a missing sub-field of a present field is.
func (m Mapping) Conflicts(live Mapping) []string {
	var out []string
	for name, want := range m {
		got, ok := live[name]
		if !ok {
			continue
		}
		if got.Type != want.Type {
			out = append(out, fmt.Sprintf("%s: want %s, have %s", name, want.Type, got.Type))
			continue
		}
		for sub, wantSub := range want.Fields {
			gotSub, ok := got.Fields[sub]
			switch {
			case !ok:
				out = append(out, fmt.Sprintf("%s.%s: want %s, have none", name, sub, wantSub.Type))
			case gotSub.Type != wantSub.Type:
				out = append(out, fmt.Sprintf("%s.%s: want %s, have %s", name, sub, wantSub.Type, gotSub.Type))
			}
		}
	}
	sort.Strings(out)
	return out
}

// EnsureIndex creates the index with its mapping when missing and otherwise
// verifies the live mapping. A type mismatch is a MappingConflict.
func (c *Client) EnsureIndex(ctx context.Context) error {
	exists, err := retryKinds(ctx, c, "check index", c.indexExists)
	if err != nil {
		return err
	}
	if !exists {
		created, err := retryKinds(ctx, c, "create index", c.createIndex)
		if err != nil {
			return err
		}
		if created {
			c.log.Info("index created", slog.String("index", c.index))
			return nil
		}
	}

	conflicts, err := c.MappingConflicts(ctx)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return failure.Newf(failure.MappingConflict, "ensure index",
			"index %s has incompatible fields: %s", c.index, strings.Join(conflicts, "; "))
	}
	c.log.Debug("index exists", slog.String("index", c.index))
	return nil
}

// MappingConflicts compares the live mapping of an existing index with the
// one this client writes.
func (c *Client) MappingConflicts(ctx context.Context) ([]string, error) {
	live, err := retryKinds(ctx, c, "get mapping", c.LiveMapping)
	if err != nil {
		return nil, err
	}
	return c.mapping.Conflicts(live), nil
}

// retryKinds repeats op while it fails with a retryable kind.
func retryKinds[T any](ctx context.Context, c *Client, what string, op func(context.Context) (T, error)) (T, error) {
	return retry.Do(ctx, c.retry, c.log, what, func() (T, error) {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return v, backoff.Permanent(ctx.Err())
		}
		if failure.KindOf(err).Retryable() {
			return v, err
		}
		return v, backoff.Permanent(err)
	})
}

func (c *Client) indexExists(ctx context.Context) (bool, error) {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, failure.New(failure.IndexUnavailable, "check index", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, classify("check index", res)
	}
}

// createIndex reports false when another writer created the index first.
func (c *Client) createIndex(ctx context.Context) (bool, error) {
	body := map[string]any{
		"mappings": map[string]any{"properties": c.mapping},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return false, fmt.Errorf("marshal mapping: %w", err)
	}

	res, err := c.es.Indices.Create(
		c.index,
		c.es.Indices.Create.WithBody(bytes.NewReader(payload)),
		c.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return false, failure.New(failure.IndexUnavailable, "create index", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		err := classify("create index", res)
		if strings.Contains(err.Error(), "resource_already_exists_exception") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// LiveMapping returns the field mapping currently stored by the cluster.
func (c *Client) LiveMapping(ctx context.Context) (Mapping, error) {
	res, err := c.es.Indices.GetMapping(
		c.es.Indices.GetMapping.WithIndex(c.index),
		c.es.Indices.GetMapping.WithContext(ctx),
	)
	if err != nil {
		return nil, failure.New(failure.IndexUnavailable, "get mapping", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, classify("get mapping", res)
	}

	var parsed map[string]struct {
		Mappings struct {
			Properties Mapping `json:"properties"`
		} `json:"mappings"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode mapping: %w", err)
	}

	// An alias may resolve to several indices; merge their fields.
	out := Mapping{}
	for _, idx := range parsed {
		for name, f := range idx.Mappings.Properties {
			out[name] = f
		}
	}
	return out, nil
}
