package models

import "time"

// Source tags stamped on indexed documents.
const (
	SourceSingle      = "salesforce"
	SourceBatch       = "salesforce_batch"
	SourceInteractive = "salesforce_interactive"
	SourceAccounts    = "salesforce_account_opportunities"
)

// OpportunityDocument is the flat structure stored in Elasticsearch.
// All keys are always present; unknown strings and dates encode as null.
type OpportunityDocument struct {
	OpportunityID   string    `json:"opportunity_id"`
	OpportunityName *string   `json:"opportunity_name"`
	AccountName     *string   `json:"account_name"`
	CloseDate       *string   `json:"close_date"`
	Amount          float64   `json:"amount"`
	TCVAmount       float64   `json:"tcv_amount"`
	ExtractedAt     time.Time `json:"extracted_at"`
	Source          string    `json:"source"`
}

// ClosedOpportunityDocument is the account report row, also synced to the
// accounts index.
type ClosedOpportunityDocument struct {
	OpportunityID    string     `json:"opportunity_id"`
	OpportunityName  *string    `json:"opportunity_name"`
	AccountID        *string    `json:"account_id"`
	AccountName      *string    `json:"account_name"`
	CloseDate        *string    `json:"close_date"`
	Amount           float64    `json:"amount"`
	StageName        *string    `json:"stage_name"`
	IsWon            bool       `json:"is_won"`
	IsClosed         bool       `json:"is_closed"`
	Type             *string    `json:"type"`
	Probability      float64    `json:"probability"`
	CreatedDate      *time.Time `json:"created_date"`
	LastModifiedDate *time.Time `json:"last_modified_date"`
	OwnerName        *string    `json:"owner_name"`
	OwnerID          *string    `json:"owner_id"`
	Description      *string    `json:"description"`
	LeadSource       *string    `json:"lead_source"`
	ForecastCategory *string    `json:"forecast_category"`
	ExtractedAt      time.Time  `json:"extracted_at"`
	Source           string     `json:"source"`
}

// Name returns the opportunity name or an empty string.
func (d ClosedOpportunityDocument) Name() string {
	if d.OpportunityName == nil {
		return ""
	}
	return *d.OpportunityName
}
