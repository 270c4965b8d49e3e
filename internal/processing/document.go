package processing

import (
	"time"

	"github.com/DeafMist/opportunity-indexer/internal/models"
)

// MapOpportunity renames the record fields into the indexed document.
// Missing numbers become 0 and missing strings or dates stay null.
func MapOpportunity(rec models.Opportunity, source string, now time.Time) models.OpportunityDocument {
	doc := models.OpportunityDocument{
		OpportunityID:   rec.ID,
		OpportunityName: rec.Name,
		CloseDate:       rec.CloseDate.Ptr(),
		Amount:          orZero(rec.Amount),
		TCVAmount:       orZero(rec.TCV),
		ExtractedAt:     now.UTC(),
		Source:          source,
	}
	if rec.Account != nil {
		doc.AccountName = rec.Account.Name
	}
	return doc
}

// MapClosedOpportunity builds the account report row for rec.
func MapClosedOpportunity(rec models.ClosedOpportunity, now time.Time) models.ClosedOpportunityDocument {
	doc := models.ClosedOpportunityDocument{
		OpportunityID:    rec.ID,
		OpportunityName:  rec.Name,
		CloseDate:        rec.CloseDate.Ptr(),
		Amount:           orZero(rec.Amount),
		StageName:        rec.StageName,
		IsWon:            rec.IsWon,
		IsClosed:         rec.IsClosed,
		Type:             rec.Type,
		Probability:      orZero(rec.Probability),
		CreatedDate:      rec.CreatedDate.Ptr(),
		LastModifiedDate: rec.LastModifiedDate.Ptr(),
		Description:      rec.Description,
		LeadSource:       rec.LeadSource,
		ForecastCategory: rec.ForecastCategory,
		ExtractedAt:      now.UTC(),
		Source:           models.SourceAccounts,
	}
	if rec.Account != nil {
		doc.AccountID = strPtr(rec.Account.ID)
		doc.AccountName = rec.Account.Name
	}
	if rec.Owner != nil {
		doc.OwnerID = strPtr(rec.Owner.ID)
		doc.OwnerName = rec.Owner.Name
	}
	return doc
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
