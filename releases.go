package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/slipway-dev/slipway/internal/api"
)

const releasesExampleUsage = `  # list the 10 most recent releases of the bound app
  slipway releases

  # list the last 3 releases of a specific app as JSON
  slipway releases -a chem-ia-planner -n 3 --json`

// createReleasesCommand initializes and returns a *cobra.Command that implements the 'releases' CLI sub-command
func createReleasesCommand() *cobra.Command {
	cmd := cobra.Command{
		Use:          "releases",
		Example:      releasesExampleUsage,
		Short:        "Lists an app's releases, newest first",
		RunE:         runReleasesCmd,
		SilenceUsage: true,
	}
	addClientFlags(cmd.Flags())
	fset := cmd.Flags()
	fset.IntP("count", "n", 10, "the maximum number of releases to list")
	fset.BoolVar(&formatAsJSON, "json", false, "specifies that the output should be formatted as JSON")
	fset.BoolVar(&formatAsList, "list", false, "specifies that the output should be formatted as a tabular list")
	return &cmd
}

// runReleasesCmd implements the logic behind the 'releases' CLI sub-command
func runReleasesCmd(cmd *cobra.Command, _ []string) error {
	conf, err := requireApp(cmd.Flags())
	if err != nil {
		return err
	}
	count, _ := cmd.Flags().GetInt("count")
	formatAsList = formatAsList || !formatAsJSON
	if !xor(formatAsJSON, formatAsList) {
		return fmt.Errorf("only one of --json or --list may be specified")
	}

	client := conf.dialServer()
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	rels, err := retryOp(func() ([]api.Release, error) {
		return client.ListReleases(ctx, conf.app, count)
	})
	if err != nil {
		return err
	}
	if len(rels) == 0 {
		fmt.Printf("%s has no releases yet. Run 'slipway deploy' to create one.\n", conf.app)
		return nil
	}

	if formatAsJSON {
		return writeJSON(os.Stdout, rels)
	}
	rows := make([][]string, len(rels))
	for i, rel := range rels {
		rows[i] = []string{
			fmt.Sprintf("v%d", rel.Num),
			rel.Status,
			shortCommit(rel.Commit),
			rel.CreatedAt.Format("2006-01-02 15:04"),
			rel.Description,
		}
	}
	return writeTable(os.Stdout, []string{"Release", "Status", "Commit", "Created", "Description"}, rows)
}

// shortCommit abbreviates a full commit hash for tabular display.
func shortCommit(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}
