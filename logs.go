package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/slipway-dev/slipway/internal/logstream"
)

const logsExampleUsage = `  # show the 100 most recent log lines
  slipway logs

  # stream the app's logs until interrupted
  slipway logs -t

  # show the last 25 lines
  slipway logs -n 25`

// createLogsCommand initializes and returns a *cobra.Command that implements the 'logs' CLI sub-command
func createLogsCommand() *cobra.Command {
	cmd := cobra.Command{
		Use:          "logs",
		Example:      logsExampleUsage,
		Short:        "Shows an app's recent log output",
		RunE:         runLogsCmd,
		SilenceUsage: true,
	}
	addClientFlags(cmd.Flags())
	fset := cmd.Flags()
	fset.BoolP("tail", "t", false, "keep streaming new log lines until interrupted")
	fset.IntP("lines", "n", 100, "the number of recent lines to show")
	return &cmd
}

// runLogsCmd implements the logic behind the 'logs' CLI sub-command
func runLogsCmd(cmd *cobra.Command, _ []string) error {
	conf, err := requireApp(cmd.Flags())
	if err != nil {
		return err
	}
	tail, _ := cmd.Flags().GetBool("tail")
	lines, _ := cmd.Flags().GetInt("lines")

	client := conf.dialServer()
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	return client.Logs(ctx, conf.app, lines, tail, func(l logstream.Line) error {
		fmt.Println(l.String())
		return nil
	})
}
