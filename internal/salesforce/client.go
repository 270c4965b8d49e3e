package salesforce

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/go-querystring/query"

	"github.com/DeafMist/opportunity-indexer/internal/config"
	"github.com/DeafMist/opportunity-indexer/internal/failure"
	"github.com/DeafMist/opportunity-indexer/internal/logger"
	"github.com/DeafMist/opportunity-indexer/internal/models"
	"github.com/DeafMist/opportunity-indexer/internal/processing"
	"github.com/DeafMist/opportunity-indexer/internal/retry"
)

const opportunitySOQL = "SELECT Id, Name, Account.Name, CloseDate, Amount, TCV__c FROM Opportunity WHERE Id = %s LIMIT 1"

// Client runs SOQL queries against one org with an authenticated client.
type Client struct {
	httpClient  *http.Client
	instanceURL string
	apiVersion  string
	retry       config.Retry
	log         *slog.Logger
}

// NewClient returns a client for instanceURL. httpClient must already
// attach the session token, see Session.HTTPClient.
func NewClient(httpClient *http.Client, instanceURL, apiVersion string, policy config.Retry, log *slog.Logger) *Client {
	if log == nil {
		log = logger.Discard()
	}
	return &Client{
		httpClient:  httpClient,
		instanceURL: strings.TrimRight(instanceURL, "/"),
		apiVersion:  apiVersion,
		retry:       policy,
		log:         log,
	}
}

// InstanceURL is the org base URL.
func (c *Client) InstanceURL() string { return c.instanceURL }

type queryResponse[T any] struct {
	TotalSize      int    `json:"totalSize"`
	Done           bool   `json:"done"`
	NextRecordsURL string `json:"nextRecordsUrl"`
	Records        []T    `json:"records"`
}

type apiError struct {
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
}

type queryParams struct {
	Q string `url:"q"`
}

// GetOpportunity fetches exactly one Opportunity by ID.
func (c *Client) GetOpportunity(ctx context.Context, id string) (*models.Opportunity, error) {
	const op = "get opportunity"
	if !processing.ValidID(id, processing.OpportunityPrefix) {
		return nil, failure.Newf(failure.InvalidIdentifier, op, "%q is not an opportunity id", id)
	}

	records, err := queryAll[models.Opportunity](ctx, c, fmt.Sprintf(opportunitySOQL, soqlQuote(id)))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, id, err)
	}
	if len(records) == 0 {
		return nil, failure.Newf(failure.NotFound, op, "no opportunity with id %s", id)
	}
	return &records[0], nil
}

// GetAccounts returns account details keyed by account ID. Unknown IDs are
// absent from the map.
func (c *Client) GetAccounts(ctx context.Context, ids []string) (map[string]models.Account, error) {
	out := make(map[string]models.Account, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	in, err := inList(ids, processing.AccountPrefix)
	if err != nil {
		return nil, err
	}

	soql := "SELECT Id, Name, Type, Industry, AnnualRevenue, NumberOfEmployees, " +
		"BillingCity, BillingState, BillingCountry, Owner.Name " +
		"FROM Account WHERE Id IN " + in

	records, err := queryAll[models.Account](ctx, c, soql)
	if err != nil {
		return nil, fmt.Errorf("get accounts: %w", err)
	}
	for _, acc := range records {
		out[acc.ID] = acc
	}
	return out, nil
}

// QueryClosedOpportunities returns closed opportunities of the filtered
// accounts ordered by account name, newest close date and largest amount.
func (c *Client) QueryClosedOpportunities(ctx context.Context, filter ClosedFilter) ([]models.ClosedOpportunity, error) {
	soql, err := filter.SOQL()
	if err != nil {
		return nil, err
	}
	c.log.Debug("closed opportunities query", slog.String("soql", soql))

	records, err := queryAll[models.ClosedOpportunity](ctx, c, soql)
	if err != nil {
		return nil, fmt.Errorf("query closed opportunities: %w", err)
	}
	c.log.Info("closed opportunities fetched", slog.Int("count", len(records)), slog.Int("accounts", len(filter.AccountIDs)))
	return records, nil
}

func queryAll[T any](ctx context.Context, c *Client, soql string) ([]T, error) {
	params, err := query.Values(queryParams{Q: soql})
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	requestURL := fmt.Sprintf("%s/services/data/%s/query?%s", c.instanceURL, c.apiVersion, params.Encode())

	var records []T
	for page := 1; ; page++ {
		c.log.Debug("soql page", slog.Int("page", page), slog.String("url", requestURL))

		resp, err := retry.Do(ctx, c.retry, c.log, "salesforce query", func() (*queryResponse[T], error) {
			var r queryResponse[T]
			if err := c.get(ctx, requestURL, &r); err != nil {
				if !failure.Is(err, failure.TransientError) {
					return nil, backoff.Permanent(err)
				}
				return nil, err
			}
			return &r, nil
		})
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}

		records = append(records, resp.Records...)
		if resp.Done || resp.NextRecordsURL == "" {
			return records, nil
		}
		requestURL, err = url.JoinPath(c.instanceURL, resp.NextRecordsURL)
		if err != nil {
			return nil, fmt.Errorf("next page url %q: %w", resp.NextRecordsURL, err)
		}
	}
}

// get performs one request and classifies the outcome.
func (c *Client) get(ctx context.Context, requestURL string, v any) error {
	const op = "salesforce request"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return failure.New(failure.TransientError, op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure.New(failure.TransientError, op, fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func classifyStatus(status int, body []byte) error {
	const op = "salesforce request"

	var apiErrs []apiError
	_ = json.Unmarshal(body, &apiErrs)
	msg := strings.TrimSpace(string(body))
	code := ""
	if len(apiErrs) > 0 {
		msg = apiErrs[0].Message
		code = apiErrs[0].ErrorCode
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden || code == "INVALID_SESSION_ID":
		return failure.Newf(failure.AuthError, op, "status %d %s: %s; %s", status, code, msg, loginHint)
	case status == http.StatusTooManyRequests || status >= 500 || code == "REQUEST_LIMIT_EXCEEDED":
		return failure.Newf(failure.TransientError, op, "status %d %s: %s", status, code, msg)
	default:
		return fmt.Errorf("%s: status %d %s: %s", op, status, code, msg)
	}
}

// soqlQuote renders s as a SOQL string literal.
func soqlQuote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}

func inList(ids []string, prefix string) (string, error) {
	quoted := make([]string, 0, len(ids))
	for _, id := range ids {
		if !processing.ValidID(id, prefix) {
			return "", failure.Newf(failure.InvalidIdentifier, "build id list", "%q is not a %s record id", id, prefix)
		}
		quoted = append(quoted, soqlQuote(id))
	}
	return "(" + strings.Join(quoted, ", ") + ")", nil
}
