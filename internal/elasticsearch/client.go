package elasticsearch

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/DeafMist/opportunity-indexer/internal/config"
	"github.com/DeafMist/opportunity-indexer/internal/failure"
	"github.com/DeafMist/opportunity-indexer/internal/logger"
)

// Client wraps go-elasticsearch with the operations this project needs.
// A Client targets one index; see WithIndex.
type Client struct {
	es      *elasticsearch.Client
	index   string
	mapping Mapping
	retry   config.Retry
	refresh string
	log     *slog.Logger
}

// New builds a client from the cluster settings. Nothing is contacted until
// the first call.
func New(cfg config.Elasticsearch, policy config.Retry, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = logger.Discard()
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = cfg.Timeout
	tr.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	if !cfg.VerifyCerts {
		log.Warn("TLS certificate verification disabled for elasticsearch", slog.String("cluster", cfg.ClusterURL))
		tr.TLSClientConfig.InsecureSkipVerify = true //nolint:gosec // explicit ES_VERIFY_CERTS=false
	}

	esCfg := elasticsearch.Config{
		Addresses:    []string{cfg.ClusterURL},
		Username:     cfg.Username,
		Password:     cfg.Password,
		APIKey:       cfg.APIKey,
		Transport:    tr,
		DisableRetry: true,
	}
	if cfg.CACertPath != "" {
		pem, err := os.ReadFile(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("read ES_CA_CERT: %w", err)
		}
		esCfg.CACert = pem
	}

	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	return &Client{
		es:      es,
		index:   cfg.Index,
		mapping: OpportunityMapping,
		retry:   policy,
		refresh: "false",
		log:     log,
	}, nil
}

// WithIndex returns a copy of c that targets index with the given mapping.
func (c *Client) WithIndex(index string, mapping Mapping) *Client {
	cp := *c
	cp.index = index
	cp.mapping = mapping
	return &cp
}

// WithRefresh returns a copy of c whose writes use the given refresh policy
// ("true", "false" or "wait_for").
func (c *Client) WithRefresh(refresh string) *Client {
	cp := *c
	cp.refresh = refresh
	return &cp
}

// Index is the target index name.
func (c *Client) Index() string { return c.index }

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return failure.New(failure.IndexUnavailable, "ping elasticsearch", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return classify("ping elasticsearch", res)
	}
	return nil
}

// ClusterInfo is the subset of GET / shown by diagnostics.
type ClusterInfo struct {
	Name        string `json:"name"`
	ClusterName string `json:"cluster_name"`
	Version     struct {
		Number string `json:"number"`
	} `json:"version"`
}

// Info returns the node and version the client is talking to.
func (c *Client) Info(ctx context.Context) (*ClusterInfo, error) {
	res, err := c.es.Info(c.es.Info.WithContext(ctx))
	if err != nil {
		return nil, failure.New(failure.IndexUnavailable, "cluster info", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, classify("cluster info", res)
	}

	var info ClusterInfo
	if err := json.NewDecoder(res.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode cluster info: %w", err)
	}
	return &info, nil
}

// Health is the cluster health summary.
type Health struct {
	ClusterName   string `json:"cluster_name"`
	Status        string `json:"status"`
	NumberOfNodes int    `json:"number_of_nodes"`
}

// Health reports cluster health. A red cluster is returned as an error.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return nil, failure.New(failure.IndexUnavailable, "cluster health", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		return nil, classify("cluster health", res)
	}

	var h Health
	if err := json.NewDecoder(res.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("decode cluster health: %w", err)
	}
	if h.Status == "red" {
		return &h, failure.Newf(failure.IndexUnavailable, "cluster health", "cluster %s is red", h.ClusterName)
	}
	return &h, nil
}

type errorBody struct {
	Error struct {
		Type     string `json:"type"`
		Reason   string `json:"reason"`
		CausedBy struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"caused_by"`
	} `json:"error"`
}

var mappingErrors = map[string]struct{}{
	"mapper_parsing_exception":         {},
	"document_parsing_exception":       {},
	"illegal_argument_exception":       {},
	"strict_dynamic_mapping_exception": {},
}

// classify turns an error response into a kinded error.
func classify(op string, res *esapi.Response) error {
	data, _ := io.ReadAll(res.Body)
	var body errorBody
	_ = json.Unmarshal(data, &body)

	reason := strings.TrimSpace(string(data))
	if body.Error.Reason != "" {
		reason = body.Error.Type + ": " + body.Error.Reason
		if body.Error.CausedBy.Reason != "" {
			reason += " (" + body.Error.CausedBy.Reason + ")"
		}
	}
	if reason == "" {
		reason = res.Status()
	}

	_, mappingErr := mappingErrors[body.Error.Type]
	switch {
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		return failure.Newf(failure.IndexUnavailable, op, "%s", reason)
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return failure.Newf(failure.AuthError, op, "%s", reason)
	case res.StatusCode == http.StatusNotFound:
		return failure.Newf(failure.NotFound, op, "%s", reason)
	case mappingErr:
		return failure.Newf(failure.MappingConflict, op, "%s", reason)
	default:
		return fmt.Errorf("%s: %s", op, reason)
	}
}
