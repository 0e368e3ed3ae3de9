package search_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/use-agent/regscout/config"
	"github.com/use-agent/regscout/diagnostics"
	"github.com/use-agent/regscout/engine"
	"github.com/use-agent/regscout/engine/enginetest"
	"github.com/use-agent/regscout/models"
	"github.com/use-agent/regscout/search"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

const formPage = `<html><head><title>Entity Search</title></head><body>
<form method="post">
<input type="hidden" id="__VIEWSTATE" value="x">
<input type="text" id="ctl00_ContentPlaceHolder1_frmEntityName" name="ctl00$ContentPlaceHolder1$frmEntityName">
<input type="submit" id="ctl00_ContentPlaceHolder1_btnSubmit" name="ctl00$ContentPlaceHolder1$btnSubmit" value="Search">
</form></body></html>`

const hiddenFieldPage = `<html><body><form>
<div style="display: none"><input type="text" id="ctl00_frmEntityName"></div>
<input type="submit" id="ctl00_btnSubmit">
</form></body></html>`

const blockPage = `<html><head><title>Access Denied</title></head><body>
<h1>Access Denied</h1>
<p>You don't have permission to access this server. No records found for your session.</p>
</body></html>`

const noRecordsPage = `<html><body>` + `<form><input id="ctl00_frmEntityName"></form>` +
	`<span id="ctl00_lblMessage">No Records Found.</span></body></html>`

const stuckPage = `<html><body><p>Your request is being processed.</p></body></html>`

func resultsPage(footer string, rows ...[]string) string {
	var b strings.Builder
	b.WriteString(`<html><body><table id="ctl00_ContentPlaceHolder1_gvResults">`)
	b.WriteString(`<tr><th>FILE NUMBER</th><th>ENTITY NAME</th></tr>`)
	for _, r := range rows {
		b.WriteString("<tr>")
		for _, c := range r {
			b.WriteString("<td>" + c + "</td>")
		}
		b.WriteString("</tr>")
	}
	b.WriteString(`</table><p>` + footer + `</p></body></html>`)
	return b.String()
}

func testEngineConfig() config.EngineConfig {
	cfg := config.DefaultEngine()
	cfg.MaxSessions = 2
	cfg.TypingDelay = 0
	cfg.Timeouts.Launch = time.Second
	cfg.Timeouts.Navigation = time.Second
	cfg.Timeouts.FieldVisible = 150 * time.Millisecond
	cfg.Timeouts.PostSubmitSettle = 0
	cfg.Timeouts.OutcomeRace = 300 * time.Millisecond
	return cfg
}

func testSearchConfig() config.SearchConfig {
	sc := config.DefaultSearch()
	sc.PollInterval = 5 * time.Millisecond
	return sc
}

type harness struct {
	l     *enginetest.Launcher
	m     *engine.Manager
	svc   *search.Service
	store *diagnostics.Store
}

func newHarness(t *testing.T, fx enginetest.Fixture, mutate func(*config.EngineConfig)) *harness {
	t.Helper()
	cfg := testEngineConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	l := &enginetest.Launcher{Fixture: fx}
	m, err := engine.NewManager(l, cfg, quiet)
	if err != nil {
		t.Fatal(err)
	}
	store := diagnostics.NewStore(10, time.Hour, 3)
	svc, err := search.NewService(m, cfg, testSearchConfig(), search.Options{Sink: store, Logger: quiet})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.Close(ctx); err != nil {
			t.Errorf("manager close: %v", err)
		}
		store.Close()
	})
	return &harness{l: l, m: m, svc: svc, store: store}
}

func (h *harness) search(t *testing.T, query string) models.Outcome {
	t.Helper()
	out, err := h.svc.Search(context.Background(), query, "DE")
	if err != nil {
		t.Fatalf("Search(%q): unexpected error %v", query, err)
	}
	return out
}

func (h *harness) assertReleased(t *testing.T) {
	t.Helper()
	if c := h.l.Counts(); c.OpenSessions() != 0 {
		t.Errorf("%d browsing sessions still open: %+v", c.OpenSessions(), c)
	}
	if got := h.m.Stats().ActiveSessions; got != 0 {
		t.Errorf("manager reports %d active sessions", got)
	}
}

var queries = []string{"acme", "Zeta Holdings", "  padded query  ", "ÉLAN S.A.", "日本"}

func TestSearch_BlockedPage(t *testing.T) {
	h := newHarness(t, enginetest.Fixture{Form: formPage, Result: blockPage}, nil)

	for _, q := range queries {
		out := h.search(t, q)
		if out.Kind != models.OutcomeBlocked {
			t.Fatalf("query %q: kind = %s, want blocked", q, out.Kind)
		}
		if out.Reason != "access denied" {
			t.Errorf("query %q: reason = %q", q, out.Reason)
		}
		if len(out.Records) != 0 {
			t.Errorf("blocked outcome carries records")
		}
	}
	h.assertReleased(t)
}

func TestSearch_NoRecordsPage(t *testing.T) {
	h := newHarness(t, enginetest.Fixture{Form: formPage, Result: noRecordsPage}, nil)

	for _, q := range queries {
		out := h.search(t, q)
		if out.Kind != models.OutcomeNoResults {
			t.Fatalf("query %q: kind = %s, want no_results", q, out.Kind)
		}
		if len(out.Records) != 0 {
			t.Errorf("query %q: %d records, want 0", q, len(out.Records))
		}
		if out.DiagnosticID != "" {
			t.Error("no diagnostic expected for a confirmed empty result")
		}
	}
	h.assertReleased(t)
}

func TestSearch_ResultsTable(t *testing.T) {
	for _, n := range []int{1, 2, 7, 40} {
		t.Run(fmt.Sprintf("%d rows", n), func(t *testing.T) {
			rows := make([][]string, n)
			want := make([]models.Record, n)
			for i := range rows {
				file := fmt.Sprintf("%07d", 1000000+i)
				name := fmt.Sprintf("ENTITY %03d LLC", i)
				rows[i] = []string{file, name}
				want[i] = models.Record{FileNumber: file, EntityName: name, Jurisdiction: "DE"}
			}
			h := newHarness(t, enginetest.Fixture{Form: formPage, Result: resultsPage("", rows...)}, nil)

			out := h.search(t, "entity")
			if out.Kind != models.OutcomeSuccess {
				t.Fatalf("kind = %s (%s %s), want success", out.Kind, out.Code, out.Message)
			}
			if diff := cmp.Diff(want, out.Records); diff != "" {
				t.Errorf("records mismatch (-want +got):\n%s", diff)
			}
			if got := h.l.Sessions()[0].Typed(); got != "entity" {
				t.Errorf("typed %q", got)
			}
			h.assertReleased(t)
		})
	}
}

func TestSearch_Idempotent(t *testing.T) {
	page := resultsPage("", []string{"3", "C"}, []string{"1", "A"}, []string{"1", "A"}, []string{"2", "B"})
	h := newHarness(t, enginetest.Fixture{Form: formPage, Result: page}, nil)

	first := h.search(t, "a")
	second := h.search(t, "a")
	if first.Kind != models.OutcomeSuccess || second.Kind != models.OutcomeSuccess {
		t.Fatalf("kinds = %s, %s", first.Kind, second.Kind)
	}
	if diff := cmp.Diff(first.Records, second.Records); diff != "" {
		t.Errorf("repeated search differs (-first +second):\n%s", diff)
	}
	if c := h.l.Counts(); c.SessionsOpened != 2 || c.Launched != 1 {
		t.Errorf("want two sessions on one pooled engine, got %+v", c)
	}
	h.assertReleased(t)
}

func TestSearch_MalformedRowSkipped(t *testing.T) {
	page := resultsPage("",
		[]string{"1", "ALPHA"},
		[]string{"only one cell"},
		[]string{"3", "GAMMA"},
	)
	h := newHarness(t, enginetest.Fixture{Form: formPage, Result: page}, nil)

	out := h.search(t, "x")
	want := []models.Record{
		{FileNumber: "1", EntityName: "ALPHA", Jurisdiction: "DE"},
		{FileNumber: "3", EntityName: "GAMMA", Jurisdiction: "DE"},
	}
	if diff := cmp.Diff(want, out.Records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestSearch_TableBeatsPhrases(t *testing.T) {
	for _, footer := range []string{
		"No records found? Contact the Division of Corporations.",
		"Protected by reCAPTCHA. No records found in archive.",
	} {
		h := newHarness(t, enginetest.Fixture{Form: formPage, Result: resultsPage(footer, []string{"1", "ACME"})}, nil)
		out := h.search(t, "acme")
		if out.Kind != models.OutcomeSuccess {
			t.Errorf("footer %q: kind = %s, want success", footer, out.Kind)
		}
	}
}

func TestSearch_LateTableStillWins(t *testing.T) {
	h := newHarness(t, enginetest.Fixture{
		Form:        formPage,
		Result:      resultsPage("", []string{"1", "ACME"}),
		ResultDelay: 80 * time.Millisecond,
	}, nil)

	out := h.search(t, "acme")
	if out.Kind != models.OutcomeSuccess || len(out.Records) != 1 {
		t.Fatalf("got %+v", out)
	}
}

func TestSearch_TableAfterPhraseBeforeDeadlineWins(t *testing.T) {
	tests := map[string]string{
		"stale no-records label": strings.Replace(formPage, "</form>",
			`</form><span id="ctl00_lblMessage">No Records Found.</span>`, 1),
		"challenge that clears": strings.Replace(formPage, "</form>",
			`</form><div id="cf-overlay">Just a moment...</div>`, 1),
	}
	for name, form := range tests {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, enginetest.Fixture{
				Form:        form,
				Result:      resultsPage("", []string{"1", "ACME"}, []string{"2", "ACME II"}),
				ResultDelay: 120 * time.Millisecond,
			}, nil)

			out := h.search(t, "acme")
			if out.Kind != models.OutcomeSuccess || len(out.Records) != 2 {
				t.Fatalf("got kind %s with %d records, want success with 2", out.Kind, len(out.Records))
			}
			h.assertReleased(t)
		})
	}
}

func TestSearch_NothingRecognisedTimesOut(t *testing.T) {
	h := newHarness(t, enginetest.Fixture{Form: formPage, Result: stuckPage}, nil)

	out := h.search(t, "acme")
	if out.Kind != models.OutcomeTransientError {
		t.Fatalf("kind = %s, want transient_error", out.Kind)
	}
	if out.Code != models.ErrCodeOutcomeTimeout {
		t.Errorf("code = %s, want %s", out.Code, models.ErrCodeOutcomeTimeout)
	}
	if out.DiagnosticID == "" {
		t.Error("expected a diagnostic capture for a transient error")
	}
	h.assertReleased(t)
}

func TestSearch_HiddenFieldNeverSubmits(t *testing.T) {
	h := newHarness(t, enginetest.Fixture{Form: hiddenFieldPage, Result: resultsPage("", []string{"1", "A"})}, nil)

	out := h.search(t, "acme")
	if out.Kind != models.OutcomeTransientError || out.Code != models.ErrCodeInteractionTimeout {
		t.Fatalf("got %s/%s, want transient_error/%s", out.Kind, out.Code, models.ErrCodeInteractionTimeout)
	}
	if h.l.Sessions()[0].Submitted() {
		t.Error("submit was attempted although the field never became visible")
	}
	h.assertReleased(t)
}

func TestSearch_NavigationFailure(t *testing.T) {
	h := newHarness(t, enginetest.Fixture{NavigateErr: fmt.Errorf("net::ERR_CONNECTION_RESET")}, nil)

	out := h.search(t, "acme")
	if out.Kind != models.OutcomeTransientError || out.Code != models.ErrCodeNavigation {
		t.Fatalf("got %s/%s", out.Kind, out.Code)
	}
	h.assertReleased(t)
}

func TestSearch_LaunchFailureReleasesEverything(t *testing.T) {
	h := newHarness(t, enginetest.Fixture{Form: formPage}, nil)
	h.l.LaunchErr = fmt.Errorf("fork/exec chromium: resource temporarily unavailable")

	out := h.search(t, "acme")
	if out.Kind != models.OutcomeTransientError || out.Code != models.ErrCodeEngineStartup {
		t.Fatalf("got %s/%s, want transient_error/%s", out.Kind, out.Code, models.ErrCodeEngineStartup)
	}
	c := h.l.Counts()
	if c.SessionsOpened != 0 || c.OpenBrowsers() != 0 {
		t.Errorf("resources allocated after launch failure: %+v", c)
	}
	h.assertReleased(t)
}

func TestSearch_DedicatedEngineClosedAfterEveryOutcome(t *testing.T) {
	for name, fx := range map[string]enginetest.Fixture{
		"success": {Form: formPage, Result: resultsPage("", []string{"1", "A"})},
		"blocked": {Form: formPage, Result: blockPage},
		"empty":   {Form: formPage, Result: noRecordsPage},
		"hidden":  {Form: hiddenFieldPage},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, fx, func(c *config.EngineConfig) { c.PoolEngine = false })
			h.search(t, "acme")
			c := h.l.Counts()
			if c.OpenSessions() != 0 || c.OpenBrowsers() != 0 {
				t.Errorf("resources left open: %+v", c)
			}
		})
	}
}

func TestSearch_EngineLostDuringRace(t *testing.T) {
	h := newHarness(t, enginetest.Fixture{
		Form:        formPage,
		Result:      resultsPage("", []string{"1", "A"}),
		ResultDelay: time.Hour,
	}, func(c *config.EngineConfig) { c.Timeouts.OutcomeRace = 5 * time.Second })

	killed := make(chan struct{})
	go func() {
		defer close(killed)
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if s := h.l.Sessions(); len(s) > 0 && s[0].Submitted() {
				h.l.Browsers()[0].Kill()
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()

	start := time.Now()
	out := h.search(t, "acme")
	<-killed

	if out.Kind != models.OutcomeTransientError || out.Code != models.ErrCodeEngineLost {
		t.Fatalf("got %s/%s, want transient_error/%s", out.Kind, out.Code, models.ErrCodeEngineLost)
	}
	if took := time.Since(start); took > 3*time.Second {
		t.Errorf("engine loss was not noticed promptly: %v", took)
	}
	h.assertReleased(t)

	// The replacement engine serves the next request.
	h.l.SetFixture(enginetest.Fixture{Form: formPage, Result: noRecordsPage})
	if out := h.search(t, "acme"); out.Kind != models.OutcomeNoResults {
		t.Errorf("after restart: kind = %s (%s)", out.Kind, out.Message)
	}
}

func TestSearch_BlockedCapturesDiagnostic(t *testing.T) {
	h := newHarness(t, enginetest.Fixture{Form: formPage, Result: blockPage, Screenshot: []byte("png-bytes")}, nil)

	first := h.search(t, "acme")
	if first.DiagnosticID == "" {
		t.Fatal("no diagnostic id")
	}
	a, ok := h.store.Get(first.DiagnosticID)
	if !ok {
		t.Fatal("artifact not stored")
	}
	if string(a.PNG) != "png-bytes" || a.Kind != models.OutcomeBlocked || a.Query != "acme" {
		t.Errorf("artifact = %+v", a)
	}
	if !strings.Contains(a.Snapshot, "Access Denied") {
		t.Errorf("snapshot = %q", a.Snapshot)
	}

	// The same block page again is deduplicated onto the first capture.
	if second := h.search(t, "other"); second.DiagnosticID != first.DiagnosticID {
		t.Errorf("second capture id %s, want %s", second.DiagnosticID, first.DiagnosticID)
	}
}

func TestSearch_ValueTypeMode(t *testing.T) {
	h := newHarness(t, enginetest.Fixture{Form: formPage, Result: resultsPage("", []string{"1", "A"})},
		func(c *config.EngineConfig) { c.TypeMode = config.TypeValue })

	if out := h.search(t, "acme corp"); out.Kind != models.OutcomeSuccess {
		t.Fatalf("kind = %s", out.Kind)
	}
	if got := h.l.Sessions()[0].Typed(); got != "acme corp" {
		t.Errorf("value = %q", got)
	}
}

func TestSearch_ConcurrentRequestsAreIsolated(t *testing.T) {
	h := newHarness(t, enginetest.Fixture{Form: formPage, Result: resultsPage("", []string{"1", "A"})}, nil)

	var wg sync.WaitGroup
	outs := make([]models.Outcome, 6)
	for i := range outs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := h.svc.Search(context.Background(), fmt.Sprintf("q%d", i), "de")
			if err != nil {
				t.Errorf("Search: %v", err)
			}
			outs[i] = out
		}(i)
	}
	wg.Wait()

	for i, out := range outs {
		if out.Kind != models.OutcomeSuccess {
			t.Errorf("request %d: kind = %s (%s)", i, out.Kind, out.Message)
		}
	}
	typed := map[string]bool{}
	for _, s := range h.l.Sessions() {
		typed[s.Typed()] = true
	}
	if len(typed) != len(outs) {
		t.Errorf("sessions were shared between requests: %v", typed)
	}
	if c := h.l.Counts(); c.Launched != 1 || c.SessionsOpened != len(outs) {
		t.Errorf("counts = %+v", c)
	}
	h.assertReleased(t)
}

func TestSearch_ConfigurationErrors(t *testing.T) {
	h := newHarness(t, enginetest.Fixture{Form: formPage}, nil)

	tests := []struct {
		query, jurisdiction string
		code                string
	}{
		{"", "DE", models.ErrCodeInvalidInput},
		{"   ", "DE", models.ErrCodeInvalidInput},
		{strings.Repeat("x", 201), "DE", models.ErrCodeInvalidInput},
		{"acme", "D1", models.ErrCodeInvalidInput},
		{"acme", "DEL", models.ErrCodeInvalidInput},
		{"acme", "NV", models.ErrCodeUnsupportedJurisdiction},
	}
	for _, tt := range tests {
		_, err := h.svc.Search(context.Background(), tt.query, tt.jurisdiction)
		if got := models.CodeOf(err, ""); got != tt.code {
			t.Errorf("Search(%q, %q): code %q (%v), want %s", tt.query, tt.jurisdiction, got, err, tt.code)
		}
		if !models.IsConfigurationError(err) {
			t.Errorf("Search(%q, %q): not a configuration error", tt.query, tt.jurisdiction)
		}
	}
	if c := h.l.Counts(); c.Launched != 0 || c.SessionsOpened != 0 {
		t.Errorf("configuration errors touched the browser: %+v", c)
	}
}

func TestSearch_CallerCancellation(t *testing.T) {
	h := newHarness(t, enginetest.Fixture{Form: formPage, Result: stuckPage},
		func(c *config.EngineConfig) { c.Timeouts.OutcomeRace = 5 * time.Second })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	out, err := h.svc.Search(ctx, "acme", "DE")
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != models.OutcomeTransientError || out.Code != models.ErrCodeInteractionTimeout {
		t.Errorf("got %s/%s, want transient_error/%s", out.Kind, out.Code, models.ErrCodeInteractionTimeout)
	}
	h.assertReleased(t)
}
