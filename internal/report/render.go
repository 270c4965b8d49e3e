package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/DeafMist/opportunity-indexer/internal/models"
)

// Render prints the analysis as a text report.
func Render(w io.Writer, a Analysis) error {
	var b strings.Builder
	t := a.Total

	b.WriteString("ACCOUNT OPPORTUNITIES ANALYSIS\n")
	b.WriteString(strings.Repeat("=", 60) + "\n\n")
	b.WriteString("Overall statistics:\n")
	fmt.Fprintf(&b, "   Accounts analyzed: %d\n", a.AccountCount())
	fmt.Fprintf(&b, "   Total opportunities: %d\n", t.Count)
	fmt.Fprintf(&b, "   Won: %d (%.1f%%)\n", t.WonCount, t.WinRate)
	fmt.Fprintf(&b, "   Lost: %d\n", t.LostCount)
	fmt.Fprintf(&b, "   Total revenue: %s\n", money(t.TotalAmount))
	fmt.Fprintf(&b, "   Won revenue: %s\n", money(t.WonAmount))
	if t.AvgDealSize > 0 {
		fmt.Fprintf(&b, "   Average deal: %s\n", money(t.AvgDealSize))
	}

	b.WriteString("\nBreakdown by account:\n")
	b.WriteString(strings.Repeat("=", 60) + "\n")

	for i, acc := range a.Accounts {
		s := acc.Stats
		fmt.Fprintf(&b, "\n%d. %s\n", i+1, acc.AccountName)
		fmt.Fprintf(&b, "    Account ID: %s\n", acc.AccountID)
		if info := acc.Info; info != nil {
			if info.Industry != nil && *info.Industry != "" {
				fmt.Fprintf(&b, "    Industry: %s\n", *info.Industry)
			}
			if info.AnnualRevenue != nil && *info.AnnualRevenue > 0 {
				fmt.Fprintf(&b, "    Annual revenue: %s\n", money(*info.AnnualRevenue))
			}
			if info.NumberOfEmployees != nil && *info.NumberOfEmployees > 0 {
				fmt.Fprintf(&b, "    Employees: %s\n", humanize.Comma(int64(*info.NumberOfEmployees)))
			}
			if loc := info.Location(); loc != "" {
				fmt.Fprintf(&b, "    Location: %s\n", loc)
			}
		}
		fmt.Fprintf(&b, "    Opportunities: %d (W:%d, L:%d)\n", s.Count, s.WonCount, s.LostCount)
		fmt.Fprintf(&b, "    Win rate: %.1f%%\n", s.WinRate)
		fmt.Fprintf(&b, "    Total revenue: %s\n", money(s.TotalAmount))
		fmt.Fprintf(&b, "    Won revenue: %s\n", money(s.WonAmount))
		fmt.Fprintf(&b, "    Average deal: %s\n", money(s.AvgDealSize))
		if len(acc.TopDeals) > 0 {
			b.WriteString("    Top deals:\n")
			for j, deal := range acc.TopDeals {
				status := "LOST"
				if deal.IsWon {
					status = "WON"
				}
				fmt.Fprintf(&b, "      %d. %s - %s [%s]\n", j+1, money(deal.Amount), deal.Name(), status)
			}
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// Parameters echoes the filter used to build an export.
type Parameters struct {
	AccountIDs []string `json:"account_ids"`
	WonOnly    bool     `json:"won_only"`
	LostOnly   bool     `json:"lost_only"`
	DateFrom   string   `json:"date_from,omitempty"`
	DateTo     string   `json:"date_to,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

// Export is the JSON file written by the accounts program.
type Export struct {
	Analysis      Analysis                           `json:"analysis"`
	Opportunities []models.ClosedOpportunityDocument `json:"opportunities"`
	AccountInfo   map[string]models.Account          `json:"account_info"`
	Parameters    Parameters                         `json:"parameters"`
	GeneratedAt   time.Time                          `json:"generated_at"`
}

// WriteJSON saves e as indented JSON at path.
func WriteJSON(path string, e Export) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal export: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// DefaultExportPath names the export for a run at t.
func DefaultExportPath(t time.Time) string {
	return fmt.Sprintf("account_opportunities_%s.json", t.Format("20060102_150405"))
}

func money(v float64) string {
	if v < 0 {
		return "-$" + humanize.FormatFloat("#,###.##", -v)
	}
	return "$" + humanize.FormatFloat("#,###.##", v)
}
