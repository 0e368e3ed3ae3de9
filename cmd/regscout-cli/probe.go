package main

import (
	"github.com/spf13/cobra"

	"github.com/use-agent/regscout/config"
	"github.com/use-agent/regscout/engine"
	"github.com/use-agent/regscout/models"
	"github.com/use-agent/regscout/search"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check that a registry page is reachable and not blocking, without a browser",
	Args:  cobra.NoArgs,
	RunE:  runProbe,
}

var probeJurisdiction string

func init() {
	probeCmd.Flags().StringVarP(&probeJurisdiction, "jurisdiction", "j", models.DefaultJurisdiction, "Two-letter registry code")
}

func runProbe(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	j, err := search.DefaultRegistry().Lookup(probeJurisdiction)
	if err != nil {
		return err
	}
	report := engine.NewProbe(cfg.Engine, cfg.Search.BlockPhrases).Check(cmd.Context(), j.Code, j.URL)
	return printJSON(report)
}
