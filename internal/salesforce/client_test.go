package salesforce_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/opportunity-indexer/internal/config"
	"github.com/DeafMist/opportunity-indexer/internal/failure"
	"github.com/DeafMist/opportunity-indexer/internal/logger"
	"github.com/DeafMist/opportunity-indexer/internal/salesforce"
)

const (
	apiVersion = "v65.0"
	queryPath  = "/services/data/v65.0/query"
)

var fastRetry = config.Retry{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

// setup returns a mux for registering handlers and a client pointed at it.
func setup(t *testing.T) (*http.ServeMux, *salesforce.Client) {
	t.Helper()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return mux, salesforce.NewClient(server.Client(), server.URL, apiVersion, fastRetry, logger.Discard())
}

func TestGetOpportunity(t *testing.T) {
	mux, client := setup(t)

	var soql string
	mux.HandleFunc(queryPath, func(w http.ResponseWriter, r *http.Request) {
		soql = r.URL.Query().Get("q")
		fmt.Fprint(w, `{"totalSize":1,"done":true,"records":[{
			"attributes":{"type":"Opportunity"},
			"Id":"0064R00000ABCDE","Name":"Renewal",
			"Account":{"attributes":{"type":"Account"},"Name":"Acme"},
			"CloseDate":"2025-03-31","Amount":100.5,"TCV__c":null}]}`)
	})

	opp, err := client.GetOpportunity(context.Background(), "0064R00000ABCDE")
	require.NoError(t, err)
	require.Equal(t, "SELECT Id, Name, Account.Name, CloseDate, Amount, TCV__c FROM Opportunity WHERE Id = '0064R00000ABCDE' LIMIT 1", soql)
	require.Equal(t, "Renewal", *opp.Name)
	require.Equal(t, "Acme", *opp.Account.Name)
	require.Equal(t, 100.5, *opp.Amount)
	require.Nil(t, opp.TCV)
}

func TestGetOpportunityRejectsBadID(t *testing.T) {
	_, client := setup(t)

	_, err := client.GetOpportunity(context.Background(), "0064R' OR Id != '")
	require.True(t, failure.Is(err, failure.InvalidIdentifier))
}

func TestGetOpportunityNotFound(t *testing.T) {
	mux, client := setup(t)
	mux.HandleFunc(queryPath, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"totalSize":0,"done":true,"records":[]}`)
	})

	_, err := client.GetOpportunity(context.Background(), "0064R00000ABCDE")
	require.True(t, failure.Is(err, failure.NotFound))
}

func TestGetOpportunityErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   failure.Kind
		calls  int
	}{
		{name: "expired session", status: http.StatusUnauthorized, body: `[{"message":"Session expired or invalid","errorCode":"INVALID_SESSION_ID"}]`, kind: failure.AuthError, calls: 1},
		{name: "forbidden", status: http.StatusForbidden, body: `[{"message":"no access","errorCode":"INSUFFICIENT_ACCESS"}]`, kind: failure.AuthError, calls: 1},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `[]`, kind: failure.TransientError, calls: 3},
		{name: "server error", status: http.StatusServiceUnavailable, body: `unavailable`, kind: failure.TransientError, calls: 3},
		{name: "malformed query", status: http.StatusBadRequest, body: `[{"message":"unexpected token","errorCode":"MALFORMED_QUERY"}]`, kind: failure.Unknown, calls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, client := setup(t)
			calls := 0
			mux.HandleFunc(queryPath, func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			_, err := client.GetOpportunity(context.Background(), "0064R00000ABCDE")
			require.Error(t, err)
			require.Equal(t, tt.kind, failure.KindOf(err))
			require.Equal(t, tt.calls, calls)
		})
	}
}

func TestGetOpportunityRecoversFromTransientError(t *testing.T) {
	mux, client := setup(t)
	calls := 0
	mux.HandleFunc(queryPath, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"totalSize":1,"done":true,"records":[{"Id":"0064R00000ABCDE"}]}`)
	})

	opp, err := client.GetOpportunity(context.Background(), "0064R00000ABCDE")
	require.NoError(t, err)
	require.Equal(t, "0064R00000ABCDE", opp.ID)
	require.Equal(t, 2, calls)
}

func TestQueryClosedOpportunitiesFollowsPages(t *testing.T) {
	mux, client := setup(t)

	var soql string
	mux.HandleFunc(queryPath, func(w http.ResponseWriter, r *http.Request) {
		soql = r.URL.Query().Get("q")
		fmt.Fprint(w, `{"totalSize":2,"done":false,"nextRecordsUrl":"/services/data/v65.0/query/01g-2000","records":[
			{"Id":"0064R00000AAAAA","Amount":10,"IsWon":true,"IsClosed":true}]}`)
	})
	mux.HandleFunc(queryPath+"/01g-2000", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"totalSize":2,"done":true,"records":[
			{"Id":"0064R00000BBBBB","Amount":null,"IsWon":false,"IsClosed":true}]}`)
	})

	got, err := client.QueryClosedOpportunities(context.Background(), salesforce.ClosedFilter{AccountIDs: []string{"0014R00000XYZAB"}})
	require.NoError(t, err)
	require.Contains(t, soql, "AccountId IN ('0014R00000XYZAB')")
	require.Len(t, got, 2)
	require.Equal(t, "0064R00000AAAAA", got[0].ID)
	require.Equal(t, "0064R00000BBBBB", got[1].ID)
	require.Nil(t, got[1].Amount)
}

func TestGetAccounts(t *testing.T) {
	mux, client := setup(t)
	var q string
	mux.HandleFunc(queryPath, func(w http.ResponseWriter, r *http.Request) {
		q = r.URL.Query().Get("q")
		fmt.Fprint(w, `{"totalSize":1,"done":true,"records":[
			{"Id":"0014R00000XYZAB","Name":"Acme","Industry":"Energy","NumberOfEmployees":120,"BillingCity":"Oslo"}]}`)
	})

	got, err := client.GetAccounts(context.Background(), []string{"0014R00000XYZAB", "0014R00000QWERT"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(q, "SELECT Id, Name, Type, Industry"))
	require.Contains(t, q, "WHERE Id IN ('0014R00000XYZAB', '0014R00000QWERT')")
	require.Len(t, got, 1)
	require.Equal(t, "Acme", got["0014R00000XYZAB"].Name)
	require.Equal(t, 120, *got["0014R00000XYZAB"].NumberOfEmployees)
	require.Equal(t, "Oslo", got["0014R00000XYZAB"].Location())
}

func TestGetAccountsEmpty(t *testing.T) {
	_, client := setup(t)
	got, err := client.GetAccounts(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, got)
}
