package models

import (
	"strings"
	"time"
)

// SalesforceDate decodes the YYYY-MM-DD date fields returned by SOQL.
type SalesforceDate struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler. null leaves the zero value.
func (d *SalesforceDate) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" || s == "" {
		return nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// Ptr returns the date as YYYY-MM-DD, or nil when unset.
func (d SalesforceDate) Ptr() *string {
	if d.IsZero() {
		return nil
	}
	s := d.Format(time.DateOnly)
	return &s
}

// SalesforceTime decodes datetimes such as 2025-07-14T02:25:51.000+0000.
type SalesforceTime struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler. null leaves the zero value.
func (t *SalesforceTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" || s == "" {
		return nil
	}
	parsed, err := time.Parse("2006-01-02T15:04:05.000-0700", s)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return err
		}
	}
	t.Time = parsed.UTC()
	return nil
}

// Ptr returns the time in RFC3339, or nil when unset.
func (t SalesforceTime) Ptr() *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

// Related is a parent relationship such as Opportunity.Account or Owner.
type Related struct {
	ID   string  `json:"Id"`
	Name *string `json:"Name"`
}

// Opportunity is the record returned by the single-item SOQL query.
// Every field except ID may be null in the org.
type Opportunity struct {
	ID        string         `json:"Id"`
	Name      *string        `json:"Name"`
	Account   *Related       `json:"Account"`
	CloseDate SalesforceDate `json:"CloseDate"`
	Amount    *float64       `json:"Amount"`
	TCV       *float64       `json:"TCV__c"`
}

// ClosedOpportunity carries the wider field set used by account reports.
type ClosedOpportunity struct {
	ID               string         `json:"Id"`
	Name             *string        `json:"Name"`
	Account          *Related       `json:"Account"`
	CloseDate        SalesforceDate `json:"CloseDate"`
	Amount           *float64       `json:"Amount"`
	StageName        *string        `json:"StageName"`
	IsWon            bool           `json:"IsWon"`
	IsClosed         bool           `json:"IsClosed"`
	Type             *string        `json:"Type"`
	Probability      *float64       `json:"Probability"`
	CreatedDate      SalesforceTime `json:"CreatedDate"`
	LastModifiedDate SalesforceTime `json:"LastModifiedDate"`
	Owner            *Related       `json:"Owner"`
	Description      *string        `json:"Description"`
	LeadSource       *string        `json:"LeadSource"`
	ForecastCategory *string        `json:"ForecastCategoryName"`
}

// Account is the subset of Account fields shown in reports.
type Account struct {
	ID                string   `json:"Id"`
	Name              string   `json:"Name"`
	Type              *string  `json:"Type"`
	Industry          *string  `json:"Industry"`
	AnnualRevenue     *float64 `json:"AnnualRevenue"`
	NumberOfEmployees *int     `json:"NumberOfEmployees"`
	BillingCity       *string  `json:"BillingCity"`
	BillingState      *string  `json:"BillingState"`
	BillingCountry    *string  `json:"BillingCountry"`
	Owner             *Related `json:"Owner"`
}

// Location joins the non-empty billing address parts.
func (a Account) Location() string {
	parts := make([]string, 0, 3)
	for _, p := range []*string{a.BillingCity, a.BillingState, a.BillingCountry} {
		if p != nil && *p != "" {
			parts = append(parts, *p)
		}
	}
	return strings.Join(parts, ", ")
}
