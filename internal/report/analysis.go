package report

import (
	"sort"

	"github.com/DeafMist/opportunity-indexer/internal/models"
)

const topDeals = 3

// Stats are the win/loss figures of a group of closed opportunities.
type Stats struct {
	Count       int     `json:"total_count"`
	WonCount    int     `json:"won_count"`
	LostCount   int     `json:"lost_count"`
	TotalAmount float64 `json:"total_amount"`
	WonAmount   float64 `json:"won_amount"`
	LostAmount  float64 `json:"lost_amount"`
	WinRate     float64 `json:"win_rate"`
	AvgDealSize float64 `json:"avg_deal_size"`
}

func (s *Stats) add(doc models.ClosedOpportunityDocument) {
	s.Count++
	s.TotalAmount += doc.Amount
	if doc.IsWon {
		s.WonCount++
		s.WonAmount += doc.Amount
	} else {
		s.LostCount++
		s.LostAmount += doc.Amount
	}
}

func (s *Stats) finish() {
	if s.Count == 0 {
		return
	}
	s.WinRate = float64(s.WonCount) / float64(s.Count) * 100
	s.AvgDealSize = s.TotalAmount / float64(s.Count)
}

// AccountSummary groups the closed opportunities of one account.
type AccountSummary struct {
	AccountID     string                             `json:"account_id"`
	AccountName   string                             `json:"account_name"`
	Info          *models.Account                    `json:"account_info,omitempty"`
	Stats         Stats                              `json:"stats"`
	TopDeals      []models.ClosedOpportunityDocument `json:"top_deals"`
	Opportunities []models.ClosedOpportunityDocument `json:"opportunities"`
}

// Analysis is the account breakdown, largest total amount first.
type Analysis struct {
	Total    Stats            `json:"total_stats"`
	Accounts []AccountSummary `json:"by_account"`
}

// AccountCount is the number of accounts with at least one opportunity.
func (a Analysis) AccountCount() int { return len(a.Accounts) }

const unknownAccount = "Unknown"

// AnalyzeByAccount groups opps by account and computes win rates, average
// deal size and the top deals of each account.
func AnalyzeByAccount(opps []models.ClosedOpportunityDocument, accounts map[string]models.Account) Analysis {
	byID := make(map[string]*AccountSummary)
	var order []string
	var total Stats

	for _, opp := range opps {
		id, name := unknownAccount, unknownAccount
		if opp.AccountID != nil {
			id = *opp.AccountID
		}
		if opp.AccountName != nil {
			name = *opp.AccountName
		}

		sum, ok := byID[id]
		if !ok {
			sum = &AccountSummary{AccountID: id, AccountName: name}
			if info, found := accounts[id]; found {
				sum.Info = &info
			}
			byID[id] = sum
			order = append(order, id)
		}
		sum.Opportunities = append(sum.Opportunities, opp)
		sum.Stats.add(opp)
		total.add(opp)
	}
	total.finish()

	out := Analysis{Total: total, Accounts: make([]AccountSummary, 0, len(order))}
	for _, id := range order {
		sum := byID[id]
		sum.Stats.finish()
		sum.TopDeals = top(sum.Opportunities, topDeals)
		out.Accounts = append(out.Accounts, *sum)
	}
	sort.SliceStable(out.Accounts, func(i, j int) bool {
		return out.Accounts[i].Stats.TotalAmount > out.Accounts[j].Stats.TotalAmount
	})
	return out
}

func top(opps []models.ClosedOpportunityDocument, n int) []models.ClosedOpportunityDocument {
	sorted := make([]models.ClosedOpportunityDocument, len(opps))
	copy(sorted, opps)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Amount > sorted[j].Amount })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
