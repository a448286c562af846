package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/slipway-dev/slipway/internal/api"
	"github.com/slipway-dev/slipway/internal/git"
	"github.com/slipway-dev/slipway/internal/logstream"
	"github.com/slipway-dev/slipway/internal/manifest"
)

const deployExampleUsage = `  # deploy the app bound to the current workspace
  slipway deploy

  # deploy with a release description
  slipway deploy -m "pin pandas to 2.0.3"`

// createDeployCommand initializes and returns a *cobra.Command that implements the 'deploy' CLI sub-command
func createDeployCommand() *cobra.Command {
	cmd := cobra.Command{
		Use:          "deploy",
		Example:      deployExampleUsage,
		Short:        "Commits the workspace and releases it to the platform",
		RunE:         runDeployCmd,
		SilenceUsage: true,
	}
	addClientFlags(cmd.Flags())
	fset := cmd.Flags()
	fset.StringP("message", "m", "", "a description for the release (also used as the commit message)")
	fset.StringP("path", "p", ".", "the app workspace to deploy")
	return &cmd
}

// runDeployCmd implements the logic behind the 'deploy' CLI sub-command:
// validate the release artifacts, commit the worktree, archive HEAD, upload
// it, and report the resulting release.
func runDeployCmd(cmd *cobra.Command, _ []string) error {
	conf, err := requireApp(cmd.Flags())
	if err != nil {
		return err
	}
	dir, _ := cmd.Flags().GetString("path")
	message, _ := cmd.Flags().GetString("message")

	// fail fast on artifact problems before touching the repo or the network
	if err := checkArtifacts(dir); err != nil {
		return err
	}

	updateSpinner, stopSpinner := startSpinner("deploying " + conf.app)
	defer stopSpinner()

	updateSpinner("committing the workspace")
	repo, created, err := git.Init(dir)
	if err != nil {
		return fmt.Errorf("unable to open the workspace repository: %w", err)
	}
	if created {
		debugLog("initialized a new git repository", "dir", dir)
	}
	if message == "" {
		// a tag on the current commit makes a better description than a timestamp
		if tag, err := repo.VersionTag(); err == nil && tag != "" {
			message = "deploy " + tag
		} else {
			message = "deploy " + time.Now().UTC().Format(time.RFC3339)
		}
	}
	commit, err := repo.CommitAll(message)
	if err != nil {
		return fmt.Errorf("unable to commit the workspace: %w", err)
	}
	debugLog("workspace committed", "commit", commit)

	updateSpinner("archiving the release")
	var archive bytes.Buffer
	if err := repo.Archive(&archive); err != nil {
		return fmt.Errorf("unable to archive the workspace: %w", err)
	}

	client := conf.dialServer()
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// tail the app's log stream while the server builds so the operator sees
	// installer output live
	go func() {
		_ = client.Logs(ctx, conf.app, 0, true, func(l logstream.Line) error {
			updateSpinner(l.Text)
			if !tty() {
				fmt.Println(l.String())
			}
			return nil
		})
	}()

	updateSpinner("uploading the release")
	rel, err := retryOp(func() (api.Release, error) {
		return client.CreateRelease(ctx, conf.app, message, commit, bytes.NewReader(archive.Bytes()))
	})
	cancel()
	stopSpinner()
	if err != nil {
		return fmt.Errorf("deploy failed: %w", err)
	}

	fmt.Printf("Released v%d of %s (%s)\n", rel.Num, rel.App, rel.Status)
	if app, err := client.GetApp(context.Background(), rel.App); err == nil {
		fmt.Println(app.URL)
	}
	return nil
}

// checkArtifacts validates the three release artifacts in the workspace so
// that obviously broken uploads never leave the operator's machine.
func checkArtifacts(dir string) error {
	mf, err := os.Open(filepath.Join(dir, "requirements.txt"))
	if err != nil {
		return fmt.Errorf("every deploy needs a requirements.txt dependency manifest: %w", err)
	}
	defer func() { _ = mf.Close() }()
	if _, err := manifest.Parse(mf); err != nil {
		return fmt.Errorf("invalid requirements.txt: %w", err)
	}

	pf, err := os.Open(filepath.Join(dir, "Procfile"))
	if err != nil {
		return fmt.Errorf("every deploy needs a Procfile declaring at least one process: %w", err)
	}
	defer func() { _ = pf.Close() }()
	procs, err := manifest.ParseProcfile(pf)
	if err != nil {
		return fmt.Errorf("invalid Procfile: %w", err)
	}
	if !procs.HasWeb() {
		debugLog("the Procfile declares no web process, the app will not receive HTTP traffic")
	}

	rt, err := os.ReadFile(filepath.Join(dir, "runtime.txt"))
	switch {
	case os.IsNotExist(err):
		// optional, the server applies its default runtime
	case err != nil:
		return fmt.Errorf("unable to read runtime.txt: %w", err)
	default:
		if _, err := manifest.ParseRuntime(string(rt)); err != nil {
			return fmt.Errorf("invalid runtime.txt: %w", err)
		}
	}
	return nil
}
