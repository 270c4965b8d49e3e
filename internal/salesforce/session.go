package salesforce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/DeafMist/opportunity-indexer/internal/failure"
)

const loginHint = "run `sf org login web` and retry"

// CommandRunner executes the Salesforce CLI and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// ExecRunner runs the CLI binary found at Path.
type ExecRunner struct {
	Path string
}

// Run implements CommandRunner. On a non-zero exit the captured stdout is
// still returned since the CLI reports its errors as JSON there.
func (r ExecRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	path := r.Path
	if path == "" {
		path = "sf"
	}
	cmd := exec.CommandContext(ctx, path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return out, fmt.Errorf("%s %s: %w: %s", path, strings.Join(args, " "), err, msg)
		}
		return out, fmt.Errorf("%s %s: %w", path, strings.Join(args, " "), err)
	}
	return out, nil
}

// Session is the cached CLI login for one org. It is never refreshed.
type Session struct {
	AccessToken string
	InstanceURL string
	Username    string
	OrgID       string
}

type orgDisplay struct {
	Status  int    `json:"status"`
	Name    string `json:"name"`
	Message string `json:"message"`
	Result  struct {
		AccessToken string `json:"accessToken"`
		InstanceURL string `json:"instanceUrl"`
		Username    string `json:"username"`
		ID          string `json:"id"`
	} `json:"result"`
}

// LoadSession reads the access token and instance URL from
// `sf org display --json`. Any failure is an AuthError.
func LoadSession(ctx context.Context, runner CommandRunner, targetOrg string) (*Session, error) {
	const op = "load salesforce session"

	args := []string{"org", "display", "--json"}
	if targetOrg != "" {
		args = append(args, "--target-org", targetOrg)
	}

	out, runErr := runner.Run(ctx, args...)

	var parsed orgDisplay
	if len(bytes.TrimSpace(out)) > 0 {
		if err := json.Unmarshal(out, &parsed); err != nil && runErr == nil {
			return nil, failure.New(failure.AuthError, op, fmt.Errorf("decode cli output: %w", err))
		}
	}

	if runErr != nil || parsed.Status != 0 {
		detail := parsed.Message
		if detail == "" && runErr != nil {
			detail = runErr.Error()
		}
		if detail == "" {
			detail = fmt.Sprintf("cli status %d", parsed.Status)
		}
		return nil, failure.Newf(failure.AuthError, op, "%s; %s", detail, loginHint)
	}

	s := &Session{
		AccessToken: parsed.Result.AccessToken,
		InstanceURL: strings.TrimRight(parsed.Result.InstanceURL, "/"),
		Username:    parsed.Result.Username,
		OrgID:       parsed.Result.ID,
	}
	if s.AccessToken == "" || s.InstanceURL == "" {
		return nil, failure.New(failure.AuthError, op, errors.New("cli returned no access token or instance url; "+loginHint))
	}
	return s, nil
}

// HTTPClient returns a client that sends the session token as a bearer
// credential. base, when non-nil, supplies the transport and timeout.
func (s *Session) HTTPClient(ctx context.Context, base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{Timeout: 30 * time.Second}
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: s.AccessToken, TokenType: "Bearer"})
	client := oauth2.NewClient(ctx, src)
	client.Timeout = base.Timeout
	return client
}
