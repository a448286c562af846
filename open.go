package main

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/slipway-dev/slipway/internal/api"
)

// createOpenCommand initializes and returns a *cobra.Command that implements the 'open' CLI sub-command
func createOpenCommand() *cobra.Command {
	cmd := cobra.Command{
		Use:          "open",
		Short:        "Opens the app's URL in a browser",
		RunE:         runOpenCmd,
		SilenceUsage: true,
	}
	addClientFlags(cmd.Flags())
	cmd.Flags().Bool("print", false, "print the URL instead of launching a browser")
	return &cmd
}

// runOpenCmd implements the logic behind the 'open' CLI sub-command
func runOpenCmd(cmd *cobra.Command, _ []string) error {
	conf, err := requireApp(cmd.Flags())
	if err != nil {
		return err
	}
	client := conf.dialServer()
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	app, err := retryOp(func() (api.App, error) {
		return client.GetApp(ctx, conf.app)
	})
	if err != nil {
		return err
	}

	fmt.Println(app.URL)
	if printOnly, _ := cmd.Flags().GetBool("print"); printOnly || !tty() {
		return nil
	}
	if err := launchBrowser(app.URL); err != nil {
		debugLog("unable to launch a browser", "err", err)
	}
	return nil
}

// launchBrowser starts the platform-appropriate URL handler.
func launchBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
