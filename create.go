package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/slipway-dev/slipway/internal/api"
	"github.com/slipway-dev/slipway/internal/git"
)

// gitRemoteName is the remote 'slipway create' adds to the app workspace.
const gitRemoteName = "slipway"

const createExampleUsage = `  # register the app and bind the current directory to it
  slipway create chem-ia-planner`

// createCreateCommand initializes and returns a *cobra.Command that implements the 'create' CLI sub-command
func createCreateCommand() *cobra.Command {
	cmd := cobra.Command{
		Use:          "create (app name)",
		Example:      createExampleUsage,
		Short:        "Registers a new app and binds the current workspace to it",
		Args:         cobra.ExactArgs(1),
		RunE:         runCreateCmd,
		SilenceUsage: true,
	}
	addClientFlags(cmd.Flags())
	cmd.Flags().Bool("no-remote", false, "do not add a git remote to the workspace repository")
	return &cmd
}

// runCreateCmd implements the logic behind the 'create' CLI sub-command
func runCreateCmd(cmd *cobra.Command, args []string) error {
	conf, err := parseClientConfig(cmd.Flags())
	if err != nil {
		return err
	}
	name := args[0]

	client := conf.dialServer()
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	app, err := retryOp(func() (api.App, error) {
		return client.CreateApp(ctx, name)
	})
	if err != nil {
		return err
	}
	fmt.Printf("Created %s\n%s\n", app.Name, app.URL)

	if err := writeWorkspaceBinding(app.Name); err != nil {
		return err
	}
	debugLog("bound workspace to app", "app", app.Name, "file", workspaceFile)

	if noRemote, _ := cmd.Flags().GetBool("no-remote"); !noRemote {
		repo, created, err := git.Init(".")
		if err != nil {
			return fmt.Errorf("unable to prepare the workspace repository: %w", err)
		}
		if created {
			debugLog("initialized a new git repository in the workspace")
		}
		if err := repo.EnsureRemote(gitRemoteName, app.URL+".git"); err != nil {
			return fmt.Errorf("unable to add the %s git remote: %w", gitRemoteName, err)
		}
		fmt.Printf("Added git remote %q -> %s.git\n", gitRemoteName, app.URL)
	}
	return nil
}
