package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/slipway-dev/slipway/internal/platform"
)

// workspaceFile binds the current directory to an app so the operator doesn't
// have to pass --app on every command.
const workspaceFile = ".slipway.yaml"

// clientConfig defines the runtime options for the "client" CLI commands
type clientConfig struct {
	// the TCP host/port of the slipway server
	serverAddr string
	// the bearer token presented on every API call
	apiToken string
	// the app the command operates on
	app string
}

// clientOption defines a functional option that configures a particular "client" CLI runtime option
type clientOption func(*clientConfig) error

// withServerAddress assigns the TCP host/port of the slipway server
func withServerAddress(addr string) clientOption {
	return func(conf *clientConfig) error {
		conf.serverAddr = addr
		return nil
	}
}

// withAPIToken assigns the bearer token for the slipway server
func withAPIToken(token string) clientOption {
	return func(conf *clientConfig) error {
		conf.apiToken = token
		return nil
	}
}

// withApp assigns the app the command operates on
func withApp(app string) clientOption {
	return func(conf *clientConfig) error {
		conf.app = app
		return nil
	}
}

// workspaceBinding is the schema of the .slipway.yaml file written by
// 'slipway create' into the app workspace.
type workspaceBinding struct {
	App string `yaml:"app"`
}

// readWorkspaceBinding loads the app name bound to the current directory, if
// any.  A missing file is not an error.
func readWorkspaceBinding() (string, error) {
	data, err := os.ReadFile(workspaceFile)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("unable to read %s: %w", workspaceFile, err)
	}
	var b workspaceBinding
	if err := yaml.Unmarshal(data, &b); err != nil {
		return "", fmt.Errorf("unable to parse %s: %w", workspaceFile, err)
	}
	return b.App, nil
}

// writeWorkspaceBinding binds the current directory to the named app.
func writeWorkspaceBinding(app string) error {
	data, err := yaml.Marshal(workspaceBinding{App: app})
	if err != nil {
		return fmt.Errorf("unable to encode %s: %w", workspaceFile, err)
	}
	if err := os.WriteFile(workspaceFile, data, 0o644); err != nil {
		return fmt.Errorf("unable to write %s: %w", workspaceFile, err)
	}
	return nil
}

// readClientConfigEnv scans the process environment vars and returns a list of 0 or more config options
func readClientConfigEnv() []clientOption {
	var opts []clientOption

	if addr := os.Getenv("SLIPWAY_SERVER_ADDR"); addr != "" {
		opts = append(opts, withServerAddress(addr))
	}
	if token := os.Getenv("SLIPWAY_API_TOKEN"); token != "" {
		opts = append(opts, withAPIToken(token))
	}

	return opts
}

// readClientConfigFlags scans the CLI flags in the provided flag set and returns a list of 0 or more
// config options
func readClientConfigFlags(fset *pflag.FlagSet) []clientOption {
	var opts []clientOption

	if addr, err := fset.GetString("server-addr"); err == nil && addr != "" {
		opts = append(opts, withServerAddress(addr))
	}
	if token, err := fset.GetString("api-token"); err == nil && token != "" {
		opts = append(opts, withAPIToken(token))
	}
	if app, err := fset.GetString("app"); err == nil && app != "" {
		opts = append(opts, withApp(app))
	}

	return opts
}

// parseClientConfig resolves the client configuration from the environment,
// the workspace binding, and the command's flags (highest precedence last).
func parseClientConfig(fset *pflag.FlagSet) (clientConfig, error) {
	var (
		opts []clientOption
		conf clientConfig
	)
	opts = append(opts, readClientConfigEnv()...)
	if app, err := readWorkspaceBinding(); err != nil {
		return clientConfig{}, err
	} else if app != "" {
		opts = append(opts, withApp(app))
	}
	opts = append(opts, readClientConfigFlags(fset)...)
	for _, fn := range opts {
		if err := fn(&conf); err != nil {
			return clientConfig{}, fmt.Errorf("could not apply client config option: %w", err)
		}
	}
	// validate config
	if conf.serverAddr == "" {
		return clientConfig{}, fmt.Errorf("the slipway server address must be specified")
	}
	return conf, nil
}

// requireApp is parseClientConfig plus the check that an app is bound.
func requireApp(fset *pflag.FlagSet) (clientConfig, error) {
	conf, err := parseClientConfig(fset)
	if err != nil {
		return clientConfig{}, err
	}
	if conf.app == "" {
		return clientConfig{}, fmt.Errorf("no app specified: pass --app or run 'slipway create' in this workspace first")
	}
	return conf, nil
}

// dialServer constructs the API client for the configured server
func (conf clientConfig) dialServer() *platform.Client {
	return platform.New(conf.serverAddr, conf.apiToken)
}

// addClientFlags registers the flags shared by every "client" CLI command
func addClientFlags(fset *pflag.FlagSet) {
	fset.String("server-addr", "", "the TCP host and port of the slipway server (default is $SLIPWAY_SERVER_ADDR environment variable)")
	fset.String("api-token", "", "the bearer token for the slipway server (default is $SLIPWAY_API_TOKEN environment variable)")
	fset.StringP("app", "a", "", "the app to operate on (default is the workspace binding in "+workspaceFile+")")
}
