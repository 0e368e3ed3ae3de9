package search

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/use-agent/regscout/engine"
	"github.com/use-agent/regscout/models"
)

// Extract reads the records out of a located results table.
func Extract(ctx context.Context, table engine.Element, jurisdiction string) ([]models.Record, error) {
	outer, err := table.OuterHTML(ctx)
	if err != nil {
		return nil, categorizeError(err, models.ErrCodeExtraction, "failed to read results table")
	}
	return ExtractRecords(outer, jurisdiction)
}

// ExtractRecords parses the outer HTML of a results table. The first row is
// the header and is dropped. Rows with fewer than two cells are skipped;
// cell 0 is the file number and cell 1 the entity name. Source order and
// duplicates are kept. Rows of nested tables are ignored.
func ExtractRecords(tableHTML, jurisdiction string) ([]models.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(tableHTML))
	if err != nil {
		return nil, models.NewSearchError(models.ErrCodeExtraction, "failed to parse results table", err)
	}
	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, models.NewSearchError(models.ErrCodeExtraction, "results element is not a table", nil)
	}

	rows := table.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
		return tr.Closest("table").IsSelection(table)
	})

	records := make([]models.Record, 0, rows.Length())
	rows.Each(func(i int, tr *goquery.Selection) {
		if i == 0 {
			return
		}
		cells := tr.ChildrenFiltered("td, th")
		if cells.Length() < 2 {
			return
		}
		records = append(records, models.Record{
			FileNumber:   cellText(cells.Eq(0)),
			EntityName:   cellText(cells.Eq(1)),
			Jurisdiction: jurisdiction,
		})
	})
	return records, nil
}

// cellText trims the cell text and collapses inner whitespace runs, which
// server-rendered grids pad with newlines and &nbsp;.
func cellText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}
