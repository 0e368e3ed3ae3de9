package search

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/use-agent/regscout/models"
)

func TestExtractRecords(t *testing.T) {
	tests := []struct {
		name  string
		table string
		want  []models.Record
	}{
		{
			name: "header dropped, order kept",
			table: `<table id="gvResults">
				<tr><th>File Number</th><th>Entity Name</th></tr>
				<tr><td> 1234567 </td><td>ACME LLC</td></tr>
				<tr><td>7654321</td><td>ACME HOLDINGS, INC.</td></tr>
			</table>`,
			want: []models.Record{
				{FileNumber: "1234567", EntityName: "ACME LLC", Jurisdiction: "DE"},
				{FileNumber: "7654321", EntityName: "ACME HOLDINGS, INC.", Jurisdiction: "DE"},
			},
		},
		{
			name: "short rows skipped",
			table: `<table>
				<tr><th>File</th><th>Name</th></tr>
				<tr><td>1</td><td>A</td></tr>
				<tr><td colspan="2">Page 1 of 1</td></tr>
				<tr><td>2</td><td>B</td></tr>
			</table>`,
			want: []models.Record{
				{FileNumber: "1", EntityName: "A", Jurisdiction: "DE"},
				{FileNumber: "2", EntityName: "B", Jurisdiction: "DE"},
			},
		},
		{
			name: "duplicates kept",
			table: `<table><tr><th>f</th><th>n</th></tr>
				<tr><td>9</td><td>SAME</td></tr><tr><td>9</td><td>SAME</td></tr></table>`,
			want: []models.Record{
				{FileNumber: "9", EntityName: "SAME", Jurisdiction: "DE"},
				{FileNumber: "9", EntityName: "SAME", Jurisdiction: "DE"},
			},
		},
		{
			name: "whitespace collapsed and empty file number kept",
			table: `<table><tr><th>f</th><th>n</th></tr>
				<tr><td>&nbsp;</td><td><a href="#">ACME
				    TRUST</a></td></tr></table>`,
			want: []models.Record{
				{FileNumber: "", EntityName: "ACME TRUST", Jurisdiction: "DE"},
			},
		},
		{
			name: "nested table rows ignored",
			table: `<table><tr><th>f</th><th>n</th></tr>
				<tr><td>1</td><td>A <table><tr><td>x</td> <td>y</td></tr></table></td></tr></table>`,
			want: []models.Record{
				{FileNumber: "1", EntityName: "A x y", Jurisdiction: "DE"},
			},
		},
		{
			name:  "header only",
			table: `<table><tr><th>f</th><th>n</th></tr></table>`,
			want:  []models.Record{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractRecords(tt.table, "DE")
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("records mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtractRecords_NotATable(t *testing.T) {
	_, err := ExtractRecords(`<div id="gvResults">nothing</div>`, "DE")
	if got := models.CodeOf(err, ""); got != models.ErrCodeExtraction {
		t.Errorf("code = %q, want %s", got, models.ErrCodeExtraction)
	}
}
