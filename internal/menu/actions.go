package menu

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/DeafMist/opportunity-indexer/internal/batch"
	"github.com/DeafMist/opportunity-indexer/internal/elasticsearch"
	"github.com/DeafMist/opportunity-indexer/internal/models"
	"github.com/DeafMist/opportunity-indexer/internal/processing"
)

// Opportunities resolves and stores single opportunities.
type Opportunities interface {
	Resolve(ctx context.Context, input string) (models.OpportunityDocument, error)
	Write(ctx context.Context, doc models.OpportunityDocument) error
}

// IndexStatus reads the index overview.
type IndexStatus interface {
	Status(ctx context.Context) (*elasticsearch.Status, error)
	Sample(ctx context.Context, n int) ([]models.OpportunityDocument, error)
}

// Services are the dependencies of the standard actions.
type Services struct {
	Opportunities Opportunities
	// Batch processes every line of the file at path.
	Batch func(ctx context.Context, path string) (batch.Summary, error)
	Index IndexStatus
	// Settings is printed by the configuration action.
	Settings [][2]string
}

// StandardActions is the interactive command table.
func StandardActions(s Services) []Action {
	return []Action{
		{Key: "1", Label: "Process a single opportunity URL", Handler: s.processSingle},
		{Key: "2", Label: "Process multiple URLs from file", Handler: s.processFile},
		{Key: "3", Label: "Test opportunity ID extraction", Handler: testExtraction},
		{Key: "4", Label: "View current configuration", Handler: s.viewConfig},
		{Key: "5", Label: "Check index status", Handler: s.indexStatus},
		{Key: "6", Label: "Exit", Exit: true},
	}
}

func (s Services) processSingle(ctx context.Context, p *Prompter) error {
	input, ok := p.Ask(ctx, "Opportunity URL: ")
	if !ok || input == "" {
		return nil
	}

	doc, err := s.Opportunities.Resolve(ctx, input)
	if err != nil {
		return err
	}
	p.Printf("\nOpportunity found:\n")
	printDocument(p, doc)

	if !p.Confirm(ctx, "\nIndex this opportunity to Elasticsearch?") {
		p.Printf("Skipped.\n")
		return nil
	}
	if err := s.Opportunities.Write(ctx, doc); err != nil {
		return err
	}
	p.Printf("Indexed %s.\n", doc.OpportunityID)
	return nil
}

func (s Services) processFile(ctx context.Context, p *Prompter) error {
	path, ok := p.Ask(ctx, "File path: ")
	if !ok || path == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	ids, rejected, err := processing.ExtractIDs(f, processing.OpportunityPrefix)
	f.Close()
	if err != nil {
		return err
	}
	p.Printf("Found %d opportunity IDs, %d invalid lines.\n", len(ids), len(rejected))
	if len(ids) == 0 {
		return nil
	}
	if !p.Confirm(ctx, fmt.Sprintf("Process %d opportunities?", len(ids))) {
		p.Printf("Skipped.\n")
		return nil
	}

	summary, err := s.Batch(ctx, path)
	if err != nil {
		return err
	}
	return batch.Render(p.Writer(), summary)
}

func testExtraction(ctx context.Context, p *Prompter) error {
	p.Printf("Enter Salesforce opportunity URLs to test ID extraction (empty line returns).\n")
	for {
		input, ok := p.Ask(ctx, "\nURL: ")
		if !ok || input == "" {
			return nil
		}
		id, err := processing.ExtractOpportunityID(input)
		if err != nil {
			p.Printf("Could not extract opportunity ID: %v\n", err)
			continue
		}
		p.Printf("Extracted ID: %s\n", id)
	}
}

func (s Services) viewConfig(_ context.Context, p *Prompter) error {
	p.Printf("\nCurrent configuration:\n")
	for _, kv := range s.Settings {
		p.Printf("   %-18s %s\n", kv[0]+":", kv[1])
	}
	return nil
}

func (s Services) indexStatus(ctx context.Context, p *Prompter) error {
	st, err := s.Index.Status(ctx)
	if err != nil {
		return err
	}
	if !st.Exists {
		p.Printf("Index %s does not exist yet.\n", st.Index)
		return nil
	}

	p.Printf("\nIndex status: %s\n", st.Index)
	p.Printf("   Document count: %s\n", humanize.Comma(st.DocCount))
	p.Printf("   Size: %s\n", humanize.IBytes(uint64(st.StoreBytes)))
	p.Printf("   Mapping fields: %d\n", st.FieldCount)

	if st.DocCount == 0 || !p.Confirm(ctx, "Show sample document?") {
		return nil
	}
	docs, err := s.Index.Sample(ctx, 1)
	if err != nil {
		return err
	}
	if len(docs) > 0 {
		p.Printf("\nSample document:\n")
		printDocument(p, docs[0])
	}
	return nil
}

func printDocument(p *Prompter, doc models.OpportunityDocument) {
	fields := map[string]string{
		"opportunity_id":   doc.OpportunityID,
		"opportunity_name": deref(doc.OpportunityName),
		"account_name":     deref(doc.AccountName),
		"close_date":       deref(doc.CloseDate),
		"amount":           humanize.FormatFloat("#,###.##", doc.Amount),
		"tcv_amount":       humanize.FormatFloat("#,###.##", doc.TCVAmount),
		"extracted_at":     doc.ExtractedAt.Format("2006-01-02T15:04:05Z07:00"),
		"source":           doc.Source,
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.Printf("   %s: %s\n", k, fields[k])
	}
}

func deref(s *string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return "-"
	}
	return *s
}
