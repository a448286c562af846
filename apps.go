package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/slipway-dev/slipway/internal/api"
)

const appsExampleUsage = `  # list every registered app
  slipway apps

  # list apps whose names start with "chem"
  slipway apps 'chem*' --list`

// createAppsCommand initializes and returns a *cobra.Command that implements the 'apps' CLI sub-command
func createAppsCommand() *cobra.Command {
	cmd := cobra.Command{
		Use:          "apps [pattern]",
		Example:      appsExampleUsage,
		Short:        "Lists the apps registered with the platform",
		RunE:         runAppsCmd,
		SilenceUsage: true,
	}
	addClientFlags(cmd.Flags())
	cmd.Flags().BoolVar(&formatAsJSON, "json", false, "specifies that the output should be formatted as JSON")
	cmd.Flags().BoolVar(&formatAsList, "list", false, "specifies that the output should be formatted as a tabular list")
	return &cmd
}

// runAppsCmd implements the logic behind the 'apps' CLI sub-command
func runAppsCmd(cmd *cobra.Command, args []string) error {
	conf, err := parseClientConfig(cmd.Flags())
	if err != nil {
		return err
	}
	var pattern string
	if len(args) > 0 {
		pattern = args[0]
	}
	formatAsList = formatAsList || !formatAsJSON
	if !xor(formatAsJSON, formatAsList) {
		return fmt.Errorf("only one of --json or --list may be specified")
	}

	client := conf.dialServer()
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	apps, err := retryOp(func() ([]api.App, error) {
		return client.ListApps(ctx, pattern)
	})
	if err != nil {
		return err
	}

	if formatAsJSON {
		return writeJSON(os.Stdout, apps)
	}
	rows := make([][]string, len(apps))
	for i, app := range apps {
		rows[i] = []string{app.Name, app.URL, app.CreatedAt.Format("2006-01-02 15:04")}
	}
	return writeTable(os.Stdout, []string{"App", "URL", "Created"}, rows)
}
