package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/slipway-dev/slipway/internal/api"
)

// createPsCommand initializes and returns a *cobra.Command that implements the 'ps' CLI sub-command
func createPsCommand() *cobra.Command {
	cmd := cobra.Command{
		Use:          "ps",
		Short:        "Shows the status of an app's dynos",
		RunE:         runPsCmd,
		SilenceUsage: true,
	}
	addClientFlags(cmd.Flags())
	cmd.Flags().BoolVar(&formatAsJSON, "json", false, "specifies that the output should be formatted as JSON")
	return &cmd
}

// runPsCmd implements the logic behind the 'ps' CLI sub-command
func runPsCmd(cmd *cobra.Command, _ []string) error {
	conf, err := requireApp(cmd.Flags())
	if err != nil {
		return err
	}
	client := conf.dialServer()
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	ds, err := retryOp(func() (api.DynoList, error) {
		return client.Dynos(ctx, conf.app)
	})
	if err != nil {
		return err
	}
	return writeDynos(ds, conf.app)
}

// createRestartCommand initializes and returns a *cobra.Command that implements the 'restart' CLI sub-command
func createRestartCommand() *cobra.Command {
	cmd := cobra.Command{
		Use:          "restart",
		Short:        "Restarts an app's dynos from its latest deployed release",
		RunE:         runRestartCmd,
		SilenceUsage: true,
	}
	addClientFlags(cmd.Flags())
	return &cmd
}

// runRestartCmd implements the logic behind the 'restart' CLI sub-command
func runRestartCmd(cmd *cobra.Command, _ []string) error {
	conf, err := requireApp(cmd.Flags())
	if err != nil {
		return err
	}
	client := conf.dialServer()
	defer func() { _ = client.Close() }()

	updateSpinner, stopSpinner := startSpinner("restarting " + conf.app)
	updateSpinner("restarting dynos")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	ds, err := retryOp(func() (api.DynoList, error) {
		return client.Restart(ctx, conf.app)
	})
	stopSpinner()
	if err != nil {
		return err
	}
	fmt.Printf("Restarted %s\n", conf.app)
	return writeDynos(ds, conf.app)
}

// writeDynos renders a dyno list as JSON or a table, per the output flags.
func writeDynos(ds api.DynoList, app string) error {
	if formatAsJSON {
		return writeJSON(os.Stdout, ds.Dynos)
	}
	if len(ds.Dynos) == 0 {
		fmt.Printf("%s has no running dynos\n", app)
		return nil
	}
	rows := make([][]string, len(ds.Dynos))
	for i, d := range ds.Dynos {
		rows[i] = []string{
			d.Proc,
			d.State,
			fmt.Sprintf("%d", d.Restarts),
			formatSince(d.StartedAt),
			d.Command,
		}
	}
	return writeTable(os.Stdout, []string{"Dyno", "State", "Restarts", "Up", "Command"}, rows)
}

// formatSince renders how long ago t was, coarsely.
func formatSince(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
