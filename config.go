package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/slipway-dev/slipway/internal/api"
)

const configExampleUsage = `  # show the app's config vars
  slipway config list

  # set one or more config vars (the app picks them up on the next restart)
  slipway config set OPENWEATHER_KEY=abc123 DEBUG=1

  # remove config vars
  slipway config unset DEBUG

  # load a local .env file into the app
  slipway config push .env`

// createConfigCommand initializes and returns a *cobra.Command that implements the 'config' CLI sub-command
func createConfigCommand() *cobra.Command {
	cmd := cobra.Command{
		Use:          "config",
		Example:      configExampleUsage,
		Short:        "Manages an app's config vars",
		SilenceUsage: true,
	}
	addClientFlags(cmd.PersistentFlags())

	listCmd := cobra.Command{
		Use:          "list",
		Short:        "Shows the app's config vars",
		RunE:         runConfigListCmd,
		SilenceUsage: true,
	}
	listCmd.Flags().BoolVar(&formatAsJSON, "json", false, "specifies that the output should be formatted as JSON")
	cmd.AddCommand(&listCmd)

	setCmd := cobra.Command{
		Use:          "set KEY=VALUE ...",
		Short:        "Sets one or more config vars",
		Args:         cobra.MinimumNArgs(1),
		RunE:         runConfigSetCmd,
		SilenceUsage: true,
	}
	cmd.AddCommand(&setCmd)

	unsetCmd := cobra.Command{
		Use:          "unset KEY ...",
		Short:        "Removes one or more config vars",
		Args:         cobra.MinimumNArgs(1),
		RunE:         runConfigUnsetCmd,
		SilenceUsage: true,
	}
	cmd.AddCommand(&unsetCmd)

	pushCmd := cobra.Command{
		Use:          "push [path/to/.env]",
		Short:        "Loads a local .env file into the app's config vars",
		Args:         cobra.MaximumNArgs(1),
		RunE:         runConfigPushCmd,
		SilenceUsage: true,
	}
	cmd.AddCommand(&pushCmd)

	return &cmd
}

func runConfigListCmd(cmd *cobra.Command, _ []string) error {
	conf, err := requireApp(cmd.Flags())
	if err != nil {
		return err
	}
	client := conf.dialServer()
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	vars, err := retryOp(func() (api.ConfigVars, error) {
		return client.GetConfigVars(ctx, conf.app)
	})
	if err != nil {
		return err
	}
	if formatAsJSON {
		return writeJSON(os.Stdout, vars)
	}
	printConfigVars(vars)
	return nil
}

func runConfigSetCmd(cmd *cobra.Command, args []string) error {
	conf, err := requireApp(cmd.Flags())
	if err != nil {
		return err
	}
	vars := make(api.ConfigVars, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return fmt.Errorf("%q is not a KEY=VALUE pair", arg)
		}
		vars[k] = v
	}
	return applyConfigVars(cmd, conf, vars)
}

func runConfigUnsetCmd(cmd *cobra.Command, args []string) error {
	conf, err := requireApp(cmd.Flags())
	if err != nil {
		return err
	}
	client := conf.dialServer()
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	vars, err := retryOp(func() (api.ConfigVars, error) {
		return client.UnsetConfigVars(ctx, conf.app, args...)
	})
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d config var(s) from %s. Run 'slipway restart' to apply.\n", len(args), conf.app)
	printConfigVars(vars)
	return nil
}

// runConfigPushCmd loads a dotenv file and merges it into the app's config.
func runConfigPushCmd(cmd *cobra.Command, args []string) error {
	conf, err := requireApp(cmd.Flags())
	if err != nil {
		return err
	}
	path := ".env"
	if len(args) == 1 {
		path = args[0]
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		return fmt.Errorf("unable to read %s: %w", path, err)
	}
	if len(vars) == 0 {
		return fmt.Errorf("%s defines no variables", path)
	}
	return applyConfigVars(cmd, conf, vars)
}

func applyConfigVars(cmd *cobra.Command, conf clientConfig, vars api.ConfigVars) error {
	client := conf.dialServer()
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	updated, err := retryOp(func() (api.ConfigVars, error) {
		return client.SetConfigVars(ctx, conf.app, vars)
	})
	if err != nil {
		return err
	}
	fmt.Printf("Set %d config var(s) on %s. Run 'slipway restart' to apply.\n", len(vars), conf.app)
	printConfigVars(updated)
	return nil
}

func printConfigVars(vars api.ConfigVars) {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s=%s\n", k, vars[k])
	}
}
