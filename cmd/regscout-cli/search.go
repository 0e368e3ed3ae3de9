package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/use-agent/regscout/config"
	"github.com/use-agent/regscout/engine"
	"github.com/use-agent/regscout/models"
	"github.com/use-agent/regscout/scraper"
	"github.com/use-agent/regscout/search"
)

// errUnsuccessful makes the process exit non-zero after printing a
// blocked or failed outcome.
var errUnsuccessful = errors.New("search did not complete")

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Run one entity-name search and print the result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

var (
	searchJurisdiction string
	searchHeaded       bool
	searchProxy        string
	searchVerbose      bool
)

func init() {
	searchCmd.Flags().StringVarP(&searchJurisdiction, "jurisdiction", "j", models.DefaultJurisdiction, "Two-letter registry code")
	searchCmd.Flags().BoolVar(&searchHeaded, "headed", false, "Show the browser window")
	searchCmd.Flags().StringVar(&searchProxy, "proxy", "", "Proxy endpoint (overrides REGSCOUT_PROXY)")
	searchCmd.Flags().BoolVarP(&searchVerbose, "verbose", "v", false, "Log engine activity to stderr")
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	cfg.Engine.PoolEngine = false
	cfg.Engine.MaxSessions = 1
	if searchHeaded {
		cfg.Engine.Headless = false
	}
	if searchProxy != "" {
		cfg.Engine.ProxyEndpoint = searchProxy
	}

	logger := newLogger(searchVerbose)

	manager, err := engine.NewManager(scraper.NewLauncher(logger), cfg.Engine, logger)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = manager.Close(ctx)
	}()

	svc, err := search.NewService(manager, cfg.Engine, cfg.Search, search.Options{Logger: logger})
	if err != nil {
		return err
	}

	req := models.SearchRequest{Query: args[0], Jurisdiction: searchJurisdiction}
	req.Defaults()

	start := time.Now()
	out, err := svc.Search(cmd.Context(), req.Query, req.Jurisdiction)
	if err != nil {
		return err
	}

	resp := models.SearchResponse{
		Success:      out.Terminal(),
		Status:       out.Kind,
		Query:        req.Query,
		Jurisdiction: req.Jurisdiction,
		Records:      out.Records,
		Count:        len(out.Records),
		Reason:       out.Reason,
		Timing:       models.TimingInfo{TotalMs: time.Since(start).Milliseconds()},
	}
	if out.Kind == models.OutcomeTransientError {
		resp.Error = &models.ErrorDetail{Code: out.Code, Message: out.Message}
	}
	if err := printJSON(resp); err != nil {
		return err
	}
	if !out.Terminal() {
		return errUnsuccessful
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
