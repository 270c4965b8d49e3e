package salesforce_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/opportunity-indexer/internal/failure"
	"github.com/DeafMist/opportunity-indexer/internal/salesforce"
)

type fakeRunner struct {
	out  string
	err  error
	args []string
}

func (f *fakeRunner) Run(_ context.Context, args ...string) ([]byte, error) {
	f.args = args
	return []byte(f.out), f.err
}

func TestLoadSession(t *testing.T) {
	runner := &fakeRunner{out: `{
		"status": 0,
		"result": {
			"id": "00D000000000001",
			"accessToken": "00D!token",
			"instanceUrl": "https://elastic.my.salesforce.com/",
			"username": "ops@example.com"
		}
	}`}

	s, err := salesforce.LoadSession(context.Background(), runner, "prod")
	require.NoError(t, err)
	require.Equal(t, []string{"org", "display", "--json", "--target-org", "prod"}, runner.args)
	require.Equal(t, "00D!token", s.AccessToken)
	require.Equal(t, "https://elastic.my.salesforce.com", s.InstanceURL)
	require.Equal(t, "ops@example.com", s.Username)
}

func TestLoadSessionDefaultOrg(t *testing.T) {
	runner := &fakeRunner{out: `{"status":0,"result":{"accessToken":"t","instanceUrl":"https://x.my.salesforce.com"}}`}

	_, err := salesforce.LoadSession(context.Background(), runner, "")
	require.NoError(t, err)
	require.Equal(t, []string{"org", "display", "--json"}, runner.args)
}

func TestLoadSessionFailures(t *testing.T) {
	tests := []struct {
		name   string
		runner *fakeRunner
		want   string
	}{
		{
			name:   "cli error json",
			runner: &fakeRunner{out: `{"status":1,"name":"NoDefaultEnvError","message":"No default environment found."}`, err: errors.New("exit status 1")},
			want:   "No default environment found.",
		},
		{
			name:   "cli missing",
			runner: &fakeRunner{err: errors.New(`exec: "sf": executable file not found in $PATH`)},
			want:   "executable file not found",
		},
		{
			name:   "no token",
			runner: &fakeRunner{out: `{"status":0,"result":{"instanceUrl":"https://x.my.salesforce.com"}}`},
			want:   "no access token",
		},
		{
			name:   "garbage",
			runner: &fakeRunner{out: `not json`},
			want:   "decode cli output",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := salesforce.LoadSession(context.Background(), tt.runner, "")
			require.Error(t, err)
			require.True(t, failure.Is(err, failure.AuthError))
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSessionHTTPClientSendsBearer(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	s := &salesforce.Session{AccessToken: "abc123", InstanceURL: srv.URL}
	resp, err := s.HTTPClient(context.Background(), srv.Client()).Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "Bearer abc123", got)
}
