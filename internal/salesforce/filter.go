package salesforce

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DeafMist/opportunity-indexer/internal/processing"
)

const closedFields = "Id, Name, Account.Id, Account.Name, CloseDate, Amount, " +
	"StageName, IsWon, IsClosed, Type, Probability, " +
	"CreatedDate, LastModifiedDate, Owner.Name, Owner.Id, " +
	"Description, LeadSource, ForecastCategoryName"

var errNoAccounts = errors.New("at least one account id is required")

// ClosedFilter narrows the closed-opportunity query.
type ClosedFilter struct {
	AccountIDs []string
	WonOnly    bool
	LostOnly   bool
	DateFrom   time.Time
	DateTo     time.Time
	Limit      int
}

// SOQL renders the filter as a query. All IDs are validated and quoted.
func (f ClosedFilter) SOQL() (string, error) {
	if len(f.AccountIDs) == 0 {
		return "", errNoAccounts
	}
	if f.WonOnly && f.LostOnly {
		return "", errors.New("won-only and lost-only are mutually exclusive")
	}
	if !f.DateFrom.IsZero() && !f.DateTo.IsZero() && f.DateTo.Before(f.DateFrom) {
		return "", errors.New("date-to is before date-from")
	}
	if f.Limit < 0 {
		return "", errors.New("limit must not be negative")
	}

	in, err := inList(f.AccountIDs, processing.AccountPrefix)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("SELECT " + closedFields + " FROM Opportunity WHERE IsClosed = true AND AccountId IN " + in)
	switch {
	case f.WonOnly:
		b.WriteString(" AND IsWon = true")
	case f.LostOnly:
		b.WriteString(" AND IsWon = false")
	}
	if !f.DateFrom.IsZero() {
		b.WriteString(" AND CloseDate >= " + f.DateFrom.Format(time.DateOnly))
	}
	if !f.DateTo.IsZero() {
		b.WriteString(" AND CloseDate <= " + f.DateTo.Format(time.DateOnly))
	}
	b.WriteString(" ORDER BY Account.Name, CloseDate DESC, Amount DESC")
	if f.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", f.Limit)
	}
	return b.String(), nil
}

// ParseDate accepts YYYY-MM-DD or MM/DD/YYYY.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.DateOnly, "01/02/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD or MM/DD/YYYY", s)
}
