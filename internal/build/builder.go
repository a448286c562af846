// Package build implements the platform's build step: unpacking an uploaded
// source archive, validating the release artifacts, and installing the
// declared dependencies.
package build

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/slipway-dev/slipway/internal/logstream"
	"github.com/slipway-dev/slipway/internal/manifest"
)

const (
	manifestFile = "requirements.txt"
	procfileFile = "Procfile"
	runtimeFile  = "runtime.txt"

	// the log source tag for installer output
	installerProc = "installer"
)

var (
	// ErrMissingManifest indicates that the uploaded source has no dependency manifest.
	ErrMissingManifest = errors.New("the source archive contains no " + manifestFile)
	// ErrMissingProcfile indicates that the uploaded source has no process declaration.
	ErrMissingProcfile = errors.New("the source archive contains no " + procfileFile)
)

// Publisher receives the build's log output.  *logstream.Hub satisfies this.
type Publisher interface {
	Publish(ctx context.Context, line logstream.Line) error
}

// Runner executes the installer command.  The default implementation shells
// out via os/exec; tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, dir string, argv []string, out io.Writer) error
}

// Config holds the builder's runtime options.
type Config struct {
	// Root is the base directory that per-release source trees are unpacked into.
	Root string
	// InstallCommand is the command run inside the release directory to
	// install the manifest's dependencies.
	InstallCommand []string
	// SupportedRuntimes lists the runtime languages this platform can
	// provision.  Empty means no restriction.
	SupportedRuntimes []string
	// DefaultRuntime is assumed when the source declares no runtime pin.
	DefaultRuntime manifest.Runtime
}

// Artifacts are the parsed release inputs extracted from the source archive.
type Artifacts struct {
	Manifest manifest.Manifest
	Procfile manifest.Procfile
	Runtime  manifest.Runtime
}

// Builder turns uploaded source archives into ready-to-run release directories.
type Builder struct {
	conf   Config
	logs   Publisher
	runner Runner
}

// New returns a Builder writing installer output to logs.
func New(conf Config, logs Publisher) *Builder {
	if len(conf.InstallCommand) == 0 {
		conf.InstallCommand = []string{"pip", "install", "--no-input", "-r", manifestFile}
	}
	if conf.DefaultRuntime == (manifest.Runtime{}) {
		conf.DefaultRuntime = manifest.Runtime{Language: "python", Version: "3.11.4"}
	}
	return &Builder{
		conf:   conf,
		logs:   logs,
		runner: execRunner{},
	}
}

// WithRunner overrides the installer runner.  Used by tests.
func (b *Builder) WithRunner(r Runner) *Builder {
	b.runner = r
	return b
}

// ReleaseDir returns the directory a given release is unpacked into.
func (b *Builder) ReleaseDir(app string, num int32) string {
	return filepath.Join(b.conf.Root, app, fmt.Sprintf("v%d", num))
}

// Build unpacks src (a gzipped tarball of the app's source tree) into the
// release directory, validates the release artifacts, and runs the installer.
// Installer output is streamed to the app's log.
func (b *Builder) Build(ctx context.Context, app string, num int32, src io.Reader) (Artifacts, error) {
	dir := b.ReleaseDir(app, num)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Artifacts{}, fmt.Errorf("unable to create release directory: %w", err)
	}
	if err := unpack(src, dir); err != nil {
		return Artifacts{}, fmt.Errorf("unable to unpack source archive: %w", err)
	}

	arts, err := b.readArtifacts(dir)
	if err != nil {
		return Artifacts{}, err
	}

	b.publish(ctx, app, fmt.Sprintf("installing %d dependencies (%s)", len(arts.Manifest.Entries), arts.Runtime))
	out := &lineWriter{
		publish: func(text string) { b.publish(ctx, app, text) },
	}
	if err := b.runner.Run(ctx, dir, b.conf.InstallCommand, out); err != nil {
		out.flush()
		b.publish(ctx, app, "dependency installation failed: "+err.Error())
		return Artifacts{}, fmt.Errorf("dependency installation failed: %w", err)
	}
	out.flush()
	b.publish(ctx, app, "build succeeded")
	return arts, nil
}

// Inspect parses and validates the release artifacts from the archive without
// unpacking it to disk.  The server uses this to reject bad uploads before a
// release number is assigned.
func (b *Builder) Inspect(src io.Reader) (Artifacts, error) {
	gz, err := gzip.NewReader(src)
	if err != nil {
		return Artifacts{}, fmt.Errorf("unable to read source archive: %w", err)
	}
	defer func() { _ = gz.Close() }()

	raw := make(map[string][]byte, 3)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Artifacts{}, fmt.Errorf("unable to read source archive: %w", err)
		}
		switch name := filepath.Clean(filepath.FromSlash(hdr.Name)); name {
		case manifestFile, procfileFile, runtimeFile:
			data, err := io.ReadAll(tr)
			if err != nil {
				return Artifacts{}, fmt.Errorf("unable to read %s from source archive: %w", name, err)
			}
			raw[name] = data
		}
	}

	var arts Artifacts
	mf, ok := raw[manifestFile]
	if !ok {
		return Artifacts{}, ErrMissingManifest
	}
	var err2 error
	if arts.Manifest, err2 = manifest.ParseString(string(mf)); err2 != nil {
		return Artifacts{}, fmt.Errorf("invalid %s: %w", manifestFile, err2)
	}
	pf, ok := raw[procfileFile]
	if !ok {
		return Artifacts{}, ErrMissingProcfile
	}
	if arts.Procfile, err2 = manifest.ParseProcfile(strings.NewReader(string(pf))); err2 != nil {
		return Artifacts{}, fmt.Errorf("invalid %s: %w", procfileFile, err2)
	}
	if rt, ok := raw[runtimeFile]; ok {
		if arts.Runtime, err2 = manifest.ParseRuntime(string(rt)); err2 != nil {
			return Artifacts{}, fmt.Errorf("invalid %s: %w", runtimeFile, err2)
		}
	} else {
		arts.Runtime = b.conf.DefaultRuntime
	}
	if !arts.Runtime.Supported(b.conf.SupportedRuntimes) {
		return Artifacts{}, fmt.Errorf("runtime %s is not supported by this platform", arts.Runtime)
	}
	return arts, nil
}

// readArtifacts parses and validates the three release inputs from the
// unpacked source tree.
func (b *Builder) readArtifacts(dir string) (Artifacts, error) {
	var arts Artifacts

	mf, err := os.Open(filepath.Join(dir, manifestFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return Artifacts{}, ErrMissingManifest
	case err != nil:
		return Artifacts{}, fmt.Errorf("unable to read %s: %w", manifestFile, err)
	}
	defer func() { _ = mf.Close() }()
	if arts.Manifest, err = manifest.Parse(mf); err != nil {
		return Artifacts{}, fmt.Errorf("invalid %s: %w", manifestFile, err)
	}

	pf, err := os.Open(filepath.Join(dir, procfileFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return Artifacts{}, ErrMissingProcfile
	case err != nil:
		return Artifacts{}, fmt.Errorf("unable to read %s: %w", procfileFile, err)
	}
	defer func() { _ = pf.Close() }()
	if arts.Procfile, err = manifest.ParseProcfile(pf); err != nil {
		return Artifacts{}, fmt.Errorf("invalid %s: %w", procfileFile, err)
	}

	rt, err := os.ReadFile(filepath.Join(dir, runtimeFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
		arts.Runtime = b.conf.DefaultRuntime
	case err != nil:
		return Artifacts{}, fmt.Errorf("unable to read %s: %w", runtimeFile, err)
	default:
		if arts.Runtime, err = manifest.ParseRuntime(string(rt)); err != nil {
			return Artifacts{}, fmt.Errorf("invalid %s: %w", runtimeFile, err)
		}
	}
	if !arts.Runtime.Supported(b.conf.SupportedRuntimes) {
		return Artifacts{}, fmt.Errorf("runtime %s is not supported by this platform", arts.Runtime)
	}
	return arts, nil
}

func (b *Builder) publish(ctx context.Context, app, text string) {
	_ = b.logs.Publish(ctx, logstream.Line{
		App:    app,
		Source: logstream.SourceBuild,
		Proc:   installerProc,
		Time:   time.Now().UTC(),
		Text:   text,
	})
}

// unpack extracts a gzipped tarball into dir, rejecting entries that would
// escape it.
func unpack(src io.Reader, dir string) error {
	gz, err := gzip.NewReader(src)
	if err != nil {
		return err
	}
	defer func() { _ = gz.Close() }()

	root := filepath.Clean(dir)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(root, filepath.FromSlash(hdr.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes the release directory", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		default:
			// symlinks, devices, etc. have no place in an app source archive
			return fmt.Errorf("archive entry %q has unsupported type %d", hdr.Name, hdr.Typeflag)
		}
	}
}

// execRunner runs the installer via os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir string, argv []string, out io.Writer) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = out
	cmd.Stderr = out
	return cmd.Run()
}

// lineWriter splits a process's output stream into individual log lines.
type lineWriter struct {
	publish func(string)
	buf     []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		idx := strings.IndexByte(string(w.buf), '\n')
		if idx == -1 {
			return len(p), nil
		}
		line := strings.TrimRight(string(w.buf[:idx]), "\r")
		w.buf = w.buf[idx+1:]
		if line != "" {
			w.publish(line)
		}
	}
}

// flush publishes any trailing output that did not end in a newline.
func (w *lineWriter) flush() {
	if rest := strings.TrimSpace(string(w.buf)); rest != "" {
		w.publish(rest)
	}
	w.buf = nil
}
