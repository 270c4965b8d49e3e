package report_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/opportunity-indexer/internal/models"
	"github.com/DeafMist/opportunity-indexer/internal/report"
)

func sp(s string) *string { return &s }

func opp(id, accountID, account, name string, amount float64, won bool) models.ClosedOpportunityDocument {
	return models.ClosedOpportunityDocument{
		OpportunityID:   id,
		OpportunityName: sp(name),
		AccountID:       sp(accountID),
		AccountName:     sp(account),
		Amount:          amount,
		IsWon:           won,
		IsClosed:        true,
		Source:          models.SourceAccounts,
	}
}

func TestAnalyzeByAccount(t *testing.T) {
	opps := []models.ClosedOpportunityDocument{
		opp("006A1", "001A", "Acme", "a1", 100, true),
		opp("006A2", "001A", "Acme", "a2", 300, false),
		opp("006B1", "001B", "Globex", "b1", 1000, true),
		opp("006A3", "001A", "Acme", "a3", 200, true),
		opp("006A4", "001A", "Acme", "a4", 50, true),
	}
	industry := "Energy"
	accounts := map[string]models.Account{"001A": {ID: "001A", Name: "Acme", Industry: &industry}}

	got := report.AnalyzeByAccount(opps, accounts)

	wantTotal := report.Stats{
		Count: 5, WonCount: 4, LostCount: 1,
		TotalAmount: 1650, WonAmount: 1350, LostAmount: 300,
		WinRate: 80, AvgDealSize: 330,
	}
	if diff := cmp.Diff(wantTotal, got.Total); diff != "" {
		t.Errorf("total stats mismatch (-want +got):\n%s", diff)
	}

	require.Equal(t, 2, got.AccountCount())
	require.Equal(t, "Globex", got.Accounts[0].AccountName)
	require.Nil(t, got.Accounts[0].Info)

	acme := got.Accounts[1]
	wantAcme := report.Stats{
		Count: 4, WonCount: 3, LostCount: 1,
		TotalAmount: 650, WonAmount: 350, LostAmount: 300,
		WinRate: 75, AvgDealSize: 162.5,
	}
	if diff := cmp.Diff(wantAcme, acme.Stats); diff != "" {
		t.Errorf("acme stats mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, "Energy", *acme.Info.Industry)

	var topIDs []string
	for _, d := range acme.TopDeals {
		topIDs = append(topIDs, d.OpportunityID)
	}
	if diff := cmp.Diff([]string{"006A2", "006A3", "006A1"}, topIDs); diff != "" {
		t.Errorf("top deals mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, acme.Opportunities, 4)
}

func TestAnalyzeByAccountEmptyAndUnknown(t *testing.T) {
	empty := report.AnalyzeByAccount(nil, nil)
	require.Zero(t, empty.AccountCount())
	require.Zero(t, empty.Total.WinRate)

	orphan := models.ClosedOpportunityDocument{OpportunityID: "006X", Amount: 10}
	got := report.AnalyzeByAccount([]models.ClosedOpportunityDocument{orphan}, nil)
	require.Equal(t, "Unknown", got.Accounts[0].AccountName)
	require.Equal(t, 0.0, got.Accounts[0].Stats.WinRate)
	require.Equal(t, 1, got.Accounts[0].Stats.LostCount)
}

func TestRender(t *testing.T) {
	employees := 12000
	city, country := "Oslo", "Norway"
	accounts := map[string]models.Account{"001A": {ID: "001A", Name: "Acme", NumberOfEmployees: &employees, BillingCity: &city, BillingCountry: &country}}
	a := report.AnalyzeByAccount([]models.ClosedOpportunityDocument{
		opp("006A1", "001A", "Acme", "Renewal", 1234567.891, true),
		opp("006A2", "001A", "Acme", "Upsell", 10, false),
	}, accounts)

	var buf bytes.Buffer
	require.NoError(t, report.Render(&buf, a))
	out := buf.String()

	require.Contains(t, out, "Accounts analyzed: 1")
	require.Contains(t, out, "Won: 1 (50.0%)")
	require.Contains(t, out, "Employees: 12,000")
	require.Contains(t, out, "Location: Oslo, Norway")
	require.Contains(t, out, "1. $1,234,567.89 - Renewal [WON]")
	require.Contains(t, out, "2. $10.00 - Upsell [LOST]")
}

func TestWriteJSON(t *testing.T) {
	a := report.AnalyzeByAccount([]models.ClosedOpportunityDocument{opp("006A1", "001A", "Acme", "x", 5, true)}, nil)
	e := report.Export{
		Analysis:      a,
		Opportunities: []models.ClosedOpportunityDocument{opp("006A1", "001A", "Acme", "x", 5, true)},
		AccountInfo:   map[string]models.Account{},
		Parameters:    report.Parameters{AccountIDs: []string{"001A"}, WonOnly: true, DateFrom: "2024-01-01"},
		GeneratedAt:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	path := filepath.Join(t.TempDir(), report.DefaultExportPath(e.GeneratedAt))
	require.NoError(t, report.WriteJSON(path, e))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded struct {
		Analysis struct {
			Total struct {
				WinRate float64 `json:"win_rate"`
			} `json:"total_stats"`
		} `json:"analysis"`
		Parameters  report.Parameters `json:"parameters"`
		GeneratedAt string            `json:"generated_at"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, 100.0, decoded.Analysis.Total.WinRate)
	require.Equal(t, e.Parameters, decoded.Parameters)
	require.Equal(t, "2025-01-01T00:00:00Z", decoded.GeneratedAt)
}
