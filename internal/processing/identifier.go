package processing

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/DeafMist/opportunity-indexer/internal/failure"
)

// Object key prefixes of the record types this tool reads.
const (
	OpportunityPrefix = "006"
	AccountPrefix     = "001"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9]{15}(?:[A-Za-z0-9]{3})?$`)

// ValidID reports whether id is a 15 or 18 character record ID with prefix.
func ValidID(id, prefix string) bool {
	return idPattern.MatchString(id) && strings.HasPrefix(id, prefix)
}

// ExtractOpportunityID returns the Opportunity ID found in a Lightning URL,
// a classic URL or a bare ID.
func ExtractOpportunityID(input string) (string, error) {
	return ExtractID(input, OpportunityPrefix)
}

// ExtractAccountID is ExtractOpportunityID for Account records.
func ExtractAccountID(input string) (string, error) {
	return ExtractID(input, AccountPrefix)
}

// clean folds compatibility characters such as full-width letters and drops
// invisible format runes (BOM, zero-width space) that creep in when URLs are
// copied out of documents or spreadsheets.
func clean(input string) string {
	t := transform.Chain(norm.NFKC, runes.Remove(runes.In(unicode.Cf)))
	out, _, err := transform.String(t, input)
	if err != nil {
		out = input
	}
	return strings.TrimSpace(out)
}

// ExtractID pulls a record ID with the given key prefix out of input.
// Query strings and fragments are ignored.
func ExtractID(input, prefix string) (string, error) {
	s := clean(input)
	if s == "" {
		return "", failure.Newf(failure.InvalidIdentifier, "extract id", "empty input")
	}

	if !strings.Contains(s, "/") {
		if ValidID(s, prefix) {
			return s, nil
		}
		return "", failure.Newf(failure.InvalidIdentifier, "extract id", "%q is not a %s record id", s, prefix)
	}

	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", failure.New(failure.InvalidIdentifier, "extract id", fmt.Errorf("parse url: %w", err))
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return "", failure.Newf(failure.InvalidIdentifier, "extract id", "unsupported url scheme %q", u.Scheme)
	}

	segments := pathSegments(u.Path)

	// Lightning: /lightning/r/<Object>/<ID>[/view]
	for i := 0; i+2 < len(segments); i++ {
		if segments[i] == "r" && ValidID(segments[i+2], prefix) {
			return segments[i+2], nil
		}
	}

	// Classic: https://<org>.my.salesforce.com/<ID>
	if len(segments) > 0 && ValidID(segments[0], prefix) {
		if !salesforceHost(u.Hostname()) {
			return "", failure.Newf(failure.InvalidIdentifier, "extract id", "%s is not a Salesforce host", u.Hostname())
		}
		return segments[0], nil
	}

	return "", failure.Newf(failure.InvalidIdentifier, "extract id", "no %s record id in %q", prefix, strings.TrimSpace(input))
}

// salesforceDomains are the registrable domains that serve record pages.
var salesforceDomains = []string{"salesforce.com", "force.com", "cloudforce.com", "visualforce.com"}

func salesforceHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, d := range salesforceDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func pathSegments(path string) []string {
	raw := strings.Split(path, "/")
	out := make([]string, 0, len(raw))
	for _, seg := range raw {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// Rejected is an input line that did not yield an ID.
type Rejected struct {
	Line  int
	Input string
	Err   error
}

// ExtractIDs reads one URL or ID per line. Blank lines and lines starting
// with # are skipped. Duplicate IDs are returned once, in first-seen order.
func ExtractIDs(r io.Reader, prefix string) ([]string, []Rejected, error) {
	var (
		ids      []string
		rejected []Rejected
		seen     = make(map[string]struct{})
	)

	err := ScanLines(r, func(line int, raw string, lineErr error) bool {
		if lineErr != nil {
			rejected = append(rejected, Rejected{Line: line, Err: lineErr})
			return true
		}
		text := clean(raw)
		if IsSkippable(text) {
			return true
		}
		id, err := ExtractID(text, prefix)
		if err != nil {
			rejected = append(rejected, Rejected{Line: line, Input: text, Err: err})
			return true
		}
		if _, dup := seen[id]; dup {
			return true
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
		return true
	})
	if err != nil {
		return ids, rejected, fmt.Errorf("read ids: %w", err)
	}
	return ids, rejected, nil
}

// IsSkippable reports whether an input line carries no item.
func IsSkippable(line string) bool {
	line = clean(line)
	return line == "" || strings.HasPrefix(line, "#")
}
