package engine

import (
	"strings"
	"testing"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

func TestTargetSelector(t *testing.T) {
	tests := []struct {
		name   string
		target Target
		want   string
	}{
		{
			name:   "query input",
			target: Target{Role: RoleQueryInput, Hints: []string{"frmEntityName"}},
			want:   `input[id*="frmEntityName"], input[name*="frmEntityName"]`,
		},
		{
			name:   "submit",
			target: Target{Role: RoleSubmit, Hints: []string{"btnSubmit"}},
			want:   `input[id*="btnSubmit"], input[name*="btnSubmit"], button[id*="btnSubmit"], button[name*="btnSubmit"]`,
		},
		{
			name:   "table with two hints",
			target: Target{Role: RoleResultsTable, Hints: []string{"gvResults", "results"}},
			want:   `table[id*="gvResults"], table[id*="results"]`,
		},
		{
			name:   "quotes escaped",
			target: Target{Role: RoleResultsTable, Hints: []string{`a"b`}},
			want:   `table[id*="a\"b"]`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.target.Selector(); got != tt.want {
				t.Errorf("Selector() = %s\nwant %s", got, tt.want)
			}
		})
	}
}

func TestTargetValidate(t *testing.T) {
	tests := []struct {
		name    string
		target  Target
		wantErr string
	}{
		{"ok", Target{Role: RoleQueryInput, Hints: []string{"frmEntityName"}}, ""},
		{"no hints", Target{Role: RoleSubmit}, "no hints"},
		{"blank hint", Target{Role: RoleSubmit, Hints: []string{"  "}}, "empty hint"},
		{"unknown role", Target{Role: Role(42), Hints: []string{"x"}}, "unknown role"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.target.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

// Server-generated ids carry naming-container prefixes that change between
// deployments; the selector must still match.
func TestTargetSelector_MatchesGeneratedIDs(t *testing.T) {
	page := `<html><body><form>
<input type="text" id="ctl00_ContentPlaceHolder1_frmEntityName" name="ctl00$ContentPlaceHolder1$frmEntityName">
<input type="submit" id="ctl00_ContentPlaceHolder1_btnSubmit" value="Search">
<table id="ctl00_ContentPlaceHolder1_gvResults"></table>
</form></body></html>`
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		t.Fatal(err)
	}
	for _, target := range []Target{
		{Role: RoleQueryInput, Hints: []string{"frmEntityName"}},
		{Role: RoleSubmit, Hints: []string{"btnSubmit"}},
		{Role: RoleResultsTable, Hints: []string{"gvResults"}},
	} {
		sel, err := cascadia.ParseGroup(target.Selector())
		if err != nil {
			t.Fatalf("%s: %v", target, err)
		}
		if cascadia.Query(doc, sel) == nil {
			t.Errorf("%s did not match", target)
		}
	}
}

func TestRoleString(t *testing.T) {
	if got := RoleResultsTable.String(); got != "results-table" {
		t.Errorf("got %q", got)
	}
	if got := Role(9).String(); got != "role(9)" {
		t.Errorf("got %q", got)
	}
}
