package elasticsearch_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/opportunity-indexer/internal/config"
	"github.com/DeafMist/opportunity-indexer/internal/elasticsearch"
	"github.com/DeafMist/opportunity-indexer/internal/logger"
)

type fakeIndex struct {
	properties map[string]any
	docs       map[string]json.RawMessage
	order      []string
}

// fakeES is an in-memory stand-in for the handful of endpoints the client uses.
type fakeES struct {
	mu         sync.Mutex
	indices    map[string]*fakeIndex
	creates    int
	indexCalls int
	// failIndex makes the next n single-document writes return 503.
	failIndex int
	// failExists and failCreate make the next n index checks or creates return 503.
	failExists  int
	failCreate  int
	existsCalls int
	// rejectIDs makes writes of these IDs fail with a mapping error.
	rejectIDs  map[string]bool
	health     string
	lastSearch map[string]any
}

func newFakeES(t *testing.T) (*fakeES, *elasticsearch.Client) {
	t.Helper()
	f := &fakeES{indices: map[string]*fakeIndex{}, rejectIDs: map[string]bool{}, health: "green"}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Elastic-Product", "Elasticsearch")
			w.Header().Set("Content-Type", "application/json")
			next.ServeHTTP(w, r)
		})
	})
	r.Head("/", func(w http.ResponseWriter, r *http.Request) {})
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name":"node-1","cluster_name":"fake","version":{"number":"8.19.0"}}`)
	})
	r.Get("/_cluster/health", f.handleHealth)
	r.Head("/{index}", f.handleExists)
	r.Put("/{index}", f.handleCreate)
	r.Get("/{index}/_mapping", f.handleMapping)
	r.Get("/{index}/_stats", f.handleStats)
	r.Put("/{index}/_doc/{id}", f.handleIndex)
	r.Get("/{index}/_doc/{id}", f.handleGet)
	r.Post("/{index}/_bulk", f.handleBulk)
	r.Post("/{index}/_search", f.handleSearch)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	client, err := elasticsearch.New(config.Elasticsearch{
		ClusterURL:  srv.URL,
		Index:       "opps",
		VerifyCerts: true,
		Timeout:     5 * time.Second,
	}, config.Retry{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}, logger.Discard())
	require.NoError(t, err)
	return f, client
}

func (f *fakeES) seed(name string, properties map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indices[name] = &fakeIndex{properties: properties, docs: map[string]json.RawMessage{}}
}

func (f *fakeES) doc(index, id string) (map[string]any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx, ok := f.indices[index]
	if !ok {
		return nil, false
	}
	raw, ok := idx.docs[id]
	if !ok {
		return nil, false
	}
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return out, true
}

func (f *fakeES) count(index string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if idx, ok := f.indices[index]; ok {
		return len(idx.docs)
	}
	return 0
}

// put stores a document and returns the result string.
func (f *fakeES) put(index, id string, body []byte) string {
	idx, ok := f.indices[index]
	if !ok {
		idx = &fakeIndex{properties: map[string]any{}, docs: map[string]json.RawMessage{}}
		f.indices[index] = idx
	}
	if _, exists := idx.docs[id]; exists {
		idx.docs[id] = append(json.RawMessage(nil), body...)
		return "updated"
	}
	idx.docs[id] = append(json.RawMessage(nil), body...)
	idx.order = append(idx.order, id)
	return "created"
}

func (f *fakeES) handleHealth(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fmt.Fprintf(w, `{"cluster_name":"fake","status":%q,"number_of_nodes":1}`, f.health)
}

func (f *fakeES) handleExists(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existsCalls++
	if f.failExists > 0 {
		f.failExists--
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if _, ok := f.indices[chi.URLParam(r, "index")]; !ok {
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeES) handleCreate(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := chi.URLParam(r, "index")
	f.creates++
	if f.failCreate > 0 {
		f.failCreate--
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":{"type":"cluster_block_exception","reason":"cluster not ready"},"status":503}`)
		return
	}
	if _, ok := f.indices[name]; ok {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, `{"error":{"type":"resource_already_exists_exception","reason":"index [%s] already exists"},"status":400}`, name)
		return
	}
	var body struct {
		Mappings struct {
			Properties map[string]any `json:"properties"`
		} `json:"mappings"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.indices[name] = &fakeIndex{properties: body.Mappings.Properties, docs: map[string]json.RawMessage{}}
	fmt.Fprintf(w, `{"acknowledged":true,"index":%q}`, name)
}

func (f *fakeES) handleMapping(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := chi.URLParam(r, "index")
	idx, ok := f.indices[name]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"type":"index_not_found_exception","reason":"no such index"},"status":404}`)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{name: map[string]any{"mappings": map[string]any{"properties": idx.properties}}})
}

func (f *fakeES) handleStats(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.indices[chi.URLParam(r, "index")]
	size := 0
	for _, d := range idx.docs {
		size += len(d)
	}
	fmt.Fprintf(w, `{"_all":{"primaries":{"docs":{"count":%d},"store":{"size_in_bytes":%d}}}}`, len(idx.docs), size)
}

func (f *fakeES) handleIndex(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexCalls++
	if f.failIndex > 0 {
		f.failIndex--
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":{"type":"unavailable_shards_exception","reason":"primary shard is not active"},"status":503}`)
		return
	}
	id := chi.URLParam(r, "id")
	if f.rejectIDs[id] {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"type":"document_parsing_exception","reason":"failed to parse field [amount] of type [long]"},"status":400}`)
		return
	}
	body, _ := io.ReadAll(r.Body)
	result := f.put(chi.URLParam(r, "index"), id, body)
	if result == "created" {
		w.WriteHeader(http.StatusCreated)
	}
	fmt.Fprintf(w, `{"_id":%q,"result":%q}`, id, result)
}

func (f *fakeES) handleGet(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := chi.URLParam(r, "id")
	idx, ok := f.indices[chi.URLParam(r, "index")]
	if !ok || idx.docs[id] == nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"_id":%q,"found":false}`, id)
		return
	}
	fmt.Fprintf(w, `{"_id":%q,"found":true,"_source":%s}`, id, idx.docs[id])
}

func (f *fakeES) handleBulk(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	index := chi.URLParam(r, "index")

	var items []map[string]any
	hasErrors := false
	sc := bufio.NewScanner(r.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for sc.Scan() {
		var action map[string]struct {
			ID string `json:"_id"`
		}
		if err := json.Unmarshal(sc.Bytes(), &action); err != nil {
			continue
		}
		if !sc.Scan() {
			break
		}
		source := bytes.Clone(sc.Bytes())
		id := action["index"].ID
		if f.rejectIDs[id] {
			hasErrors = true
			items = append(items, map[string]any{"index": map[string]any{
				"_id": id, "status": 400,
				"error": map[string]any{"type": "document_parsing_exception", "reason": "bad field"},
			}})
			continue
		}
		result := f.put(index, id, source)
		status := http.StatusOK
		if result == "created" {
			status = http.StatusCreated
		}
		items = append(items, map[string]any{"index": map[string]any{"_id": id, "status": status, "result": result}})
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"took": 1, "errors": hasErrors, "items": items})
}

func (f *fakeES) handleSearch(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.lastSearch = body

	idx, ok := f.indices[chi.URLParam(r, "index")]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"type":"index_not_found_exception","reason":"no such index"},"status":404}`)
		return
	}

	size := len(idx.order)
	if s, ok := body["size"].(float64); ok && int(s) < size {
		size = int(s)
	}
	hits := make([]map[string]any, 0, size)
	var amount, tcv, latest float64
	bySource := map[string]int{}
	for i, id := range idx.order {
		var doc map[string]any
		_ = json.Unmarshal(idx.docs[id], &doc)
		if i < size {
			hits = append(hits, map[string]any{"_id": id, "_source": doc})
		}
		a, _ := doc["amount"].(float64)
		tv, _ := doc["tcv_amount"].(float64)
		amount += a
		tcv += tv
		if src, ok := doc["source"].(string); ok {
			bySource[src]++
		}
		if ts, ok := doc["extracted_at"].(string); ok {
			if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil && float64(parsed.UnixMilli()) > latest {
				latest = float64(parsed.UnixMilli())
			}
		}
	}

	resp := map[string]any{
		"hits": map[string]any{"total": map[string]any{"value": len(idx.order)}, "hits": hits},
	}
	if _, ok := body["aggs"]; ok {
		buckets := make([]map[string]any, 0, len(bySource))
		for k, v := range bySource {
			buckets = append(buckets, map[string]any{"key": k, "doc_count": v})
		}
		resp["aggregations"] = map[string]any{
			"amount":    map[string]any{"value": amount},
			"tcv":       map[string]any{"value": tcv},
			"latest":    map[string]any{"value": latest},
			"by_source": map[string]any{"buckets": buckets},
		}
	}
	_ = json.NewEncoder(w).Encode(resp)
}
