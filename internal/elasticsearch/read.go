package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/DeafMist/opportunity-indexer/internal/failure"
	"github.com/DeafMist/opportunity-indexer/internal/models"
)

// Status is the index overview printed by the status views.
type Status struct {
	Index      string `json:"index"`
	Exists     bool   `json:"exists"`
	DocCount   int64  `json:"doc_count"`
	StoreBytes int64  `json:"store_size_bytes"`
	FieldCount int    `json:"field_count"`
}

// Status reports document count, store size and mapped field count. A
// missing index is not an error.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	st := &Status{Index: c.index}

	exists, err := c.indexExists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return st, nil
	}
	st.Exists = true

	res, err := c.es.Indices.Stats(
		c.es.Indices.Stats.WithIndex(c.index),
		c.es.Indices.Stats.WithContext(ctx),
	)
	if err != nil {
		return nil, failure.New(failure.IndexUnavailable, "index stats", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, classify("index stats", res)
	}

	var parsed struct {
		All struct {
			Primaries struct {
				Docs struct {
					Count int64 `json:"count"`
				} `json:"docs"`
				Store struct {
					SizeInBytes int64 `json:"size_in_bytes"`
				} `json:"store"`
			} `json:"primaries"`
		} `json:"_all"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode index stats: %w", err)
	}
	st.DocCount = parsed.All.Primaries.Docs.Count
	st.StoreBytes = parsed.All.Primaries.Store.SizeInBytes

	live, err := c.LiveMapping(ctx)
	if err != nil {
		return nil, err
	}
	st.FieldCount = len(live)
	return st, nil
}

// GetOpportunity loads one indexed document by ID.
func (c *Client) GetOpportunity(ctx context.Context, id string) (*models.OpportunityDocument, error) {
	res, err := c.es.Get(c.index, id, c.es.Get.WithContext(ctx))
	if err != nil {
		return nil, failure.New(failure.IndexUnavailable, "get document", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, failure.Newf(failure.NotFound, "get document", "no document %s in %s", id, c.index)
	}
	if res.IsError() {
		return nil, classify("get document", res)
	}

	var parsed struct {
		Source models.OpportunityDocument `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return &parsed.Source, nil
}

// SearchParams narrow the opportunity search.
type SearchParams struct {
	Query     string
	Account   string
	Source    string
	CloseFrom *time.Time
	CloseTo   *time.Time
	From      int
	Size      int
	Sort      string
}

// SearchResult bundles hits and total count.
type SearchResult struct {
	Total int64                        `json:"total"`
	Items []models.OpportunityDocument `json:"items"`
}

// ErrInvalidSort is returned for a sort outside the allowed fields or
// orders.
var ErrInvalidSort = errors.New("invalid sort")

var sortable = map[string]struct{}{
	"extracted_at":             {},
	"close_date":               {},
	"amount":                   {},
	"tcv_amount":               {},
	"opportunity_id":           {},
	"account_name.keyword":     {},
	"opportunity_name.keyword": {},
}

// Sample returns the n most recently extracted documents.
func (c *Client) Sample(ctx context.Context, n int) ([]models.OpportunityDocument, error) {
	res, err := c.SearchOpportunities(ctx, SearchParams{Size: n, Sort: "extracted_at:desc"})
	if err != nil {
		return nil, err
	}
	return res.Items, nil
}

// SearchOpportunities executes a bool query with optional filters.
func (c *Client) SearchOpportunities(ctx context.Context, params SearchParams) (*SearchResult, error) {
	body, err := searchBody(params)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source models.OpportunityDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := c.search(ctx, body, &parsed); err != nil {
		return nil, err
	}

	items := make([]models.OpportunityDocument, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		items = append(items, hit.Source)
	}
	return &SearchResult{Total: parsed.Hits.Total.Value, Items: items}, nil
}

func searchBody(params SearchParams) (map[string]any, error) {
	if params.Size <= 0 {
		params.Size = 20
	}
	if params.Size > 200 {
		params.Size = 200
	}
	if params.From < 0 {
		params.From = 0
	}

	must := make([]map[string]any, 0, 1)
	filters := make([]map[string]any, 0, 3)

	if params.Query != "" {
		must = append(must, map[string]any{
			"multi_match": map[string]any{
				"query":  params.Query,
				"fields": []string{"opportunity_name^2", "account_name"},
			},
		})
	}
	if params.Account != "" {
		filters = append(filters, map[string]any{
			"term": map[string]any{"account_name.keyword": params.Account},
		})
	}
	if params.Source != "" {
		filters = append(filters, map[string]any{
			"term": map[string]any{"source": params.Source},
		})
	}
	if params.CloseFrom != nil || params.CloseTo != nil {
		rangeQuery := map[string]any{}
		if params.CloseFrom != nil {
			rangeQuery["gte"] = params.CloseFrom.Format(time.DateOnly)
		}
		if params.CloseTo != nil {
			rangeQuery["lte"] = params.CloseTo.Format(time.DateOnly)
		}
		filters = append(filters, map[string]any{
			"range": map[string]any{"close_date": rangeQuery},
		})
	}

	boolQuery := map[string]any{}
	if len(must) > 0 {
		boolQuery["must"] = must
	}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}
	if len(must) == 0 && len(filters) == 0 {
		boolQuery["must"] = []map[string]any{{"match_all": map[string]any{}}}
	}

	field, order, err := parseSort(params.Sort)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"from":             params.From,
		"size":             params.Size,
		"track_total_hits": true,
		"query":            map[string]any{"bool": boolQuery},
		"sort":             []map[string]any{{field: map[string]any{"order": order, "unmapped_type": "keyword"}}},
	}, nil
}

func parseSort(raw string) (string, string, error) {
	if raw == "" {
		raw = "extracted_at:desc"
	}
	field, order, _ := strings.Cut(raw, ":")
	if field == "" {
		field = "extracted_at"
	}
	if order == "" {
		order = "desc"
	}
	if _, ok := sortable[field]; !ok {
		return "", "", fmt.Errorf("%w: cannot sort by %q", ErrInvalidSort, field)
	}
	if order != "asc" && order != "desc" {
		return "", "", fmt.Errorf("%w: order must be asc or desc, got %q", ErrInvalidSort, order)
	}
	return field, order, nil
}

// Totals aggregates the whole index for the stats endpoint.
type Totals struct {
	Documents int64            `json:"documents"`
	Amount    float64          `json:"amount"`
	TCVAmount float64          `json:"tcv_amount"`
	BySource  map[string]int64 `json:"by_source"`
	Latest    *time.Time       `json:"latest_extracted_at,omitempty"`
}

// Totals sums amounts and counts documents per source tag.
func (c *Client) Totals(ctx context.Context) (*Totals, error) {
	body := map[string]any{
		"size":             0,
		"track_total_hits": true,
		"aggs": map[string]any{
			"amount":    map[string]any{"sum": map[string]any{"field": "amount"}},
			"tcv":       map[string]any{"sum": map[string]any{"field": "tcv_amount"}},
			"latest":    map[string]any{"max": map[string]any{"field": "extracted_at"}},
			"by_source": map[string]any{"terms": map[string]any{"field": "source", "size": 20}},
		},
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
		} `json:"hits"`
		Aggregations struct {
			Amount struct {
				Value float64 `json:"value"`
			} `json:"amount"`
			TCV struct {
				Value float64 `json:"value"`
			} `json:"tcv"`
			Latest struct {
				Value *float64 `json:"value"`
			} `json:"latest"`
			BySource struct {
				Buckets []struct {
					Key      string `json:"key"`
					DocCount int64  `json:"doc_count"`
				} `json:"buckets"`
			} `json:"by_source"`
		} `json:"aggregations"`
	}
	if err := c.search(ctx, body, &parsed); err != nil {
		return nil, err
	}

	t := &Totals{
		Documents: parsed.Hits.Total.Value,
		Amount:    parsed.Aggregations.Amount.Value,
		TCVAmount: parsed.Aggregations.TCV.Value,
		BySource:  make(map[string]int64, len(parsed.Aggregations.BySource.Buckets)),
	}
	for _, b := range parsed.Aggregations.BySource.Buckets {
		t.BySource[b.Key] = b.DocCount
	}
	if v := parsed.Aggregations.Latest.Value; v != nil {
		latest := time.UnixMilli(int64(*v)).UTC()
		t.Latest = &latest
	}
	return t, nil
}

func (c *Client) search(ctx context.Context, body map[string]any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return failure.New(failure.IndexUnavailable, "search", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return classify("search", res)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode search response: %w", err)
	}
	return nil
}
