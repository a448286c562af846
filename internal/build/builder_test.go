package build

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipway-dev/slipway/internal/logstream"
	"github.com/slipway-dev/slipway/internal/manifest"
)

// runnerFunc adapts a function to the Runner interface.
type runnerFunc func(ctx context.Context, dir string, argv []string, out io.Writer) error

func (f runnerFunc) Run(ctx context.Context, dir string, argv []string, out io.Writer) error {
	return f(ctx, dir, argv, out)
}

// capturePublisher records every published line.
type capturePublisher struct {
	mu    sync.Mutex
	lines []logstream.Line
}

func (c *capturePublisher) Publish(_ context.Context, line logstream.Line) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
	return nil
}

func (c *capturePublisher) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.lines))
	for i, l := range c.lines {
		out[i] = l.Text
	}
	return out
}

// archive builds a gzipped tarball from the provided name -> contents map.
func archive(t *testing.T, files map[string]string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, contents := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(contents)),
		}))
		_, err := tw.Write([]byte(contents))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return &buf
}

var appSource = map[string]string{
	"app.py":           "print('hello')\n",
	"requirements.txt": "streamlit==1.27.0\npandas==2.0.3\n",
	"Procfile":         "web: streamlit run app.py --server.port $PORT\n",
	"runtime.txt":      "python-3.11.4\n",
}

func TestBuild(t *testing.T) {
	t.Parallel()
	logs := &capturePublisher{}
	b := New(Config{Root: t.TempDir()}, logs).WithRunner(
		runnerFunc(func(_ context.Context, dir string, argv []string, out io.Writer) error {
			assert.Equal(t, []string{"pip", "install", "--no-input", "-r", "requirements.txt"}, argv)
			fmt.Fprintf(out, "Collecting streamlit==1.27.0\nSuccessfully installed streamlit-1.27.0\n")
			return nil
		}))

	arts, err := b.Build(context.Background(), "chem-ia-planner", 1, archive(t, appSource))
	require.NoError(t, err)

	assert.Len(t, arts.Manifest.Entries, 2)
	assert.True(t, arts.Procfile.HasWeb())
	assert.Equal(t, manifest.Runtime{Language: "python", Version: "3.11.4"}, arts.Runtime)

	// the unpacked tree is in the per-release directory
	data, err := os.ReadFile(filepath.Join(b.ReleaseDir("chem-ia-planner", 1), "app.py"))
	require.NoError(t, err)
	assert.Equal(t, "print('hello')\n", string(data))

	// installer output was routed line-wise to the log stream
	texts := logs.texts()
	assert.Contains(t, texts, "Collecting streamlit==1.27.0")
	assert.Contains(t, texts, "Successfully installed streamlit-1.27.0")
	assert.Contains(t, texts, "build succeeded")
}

func TestBuildValidation(t *testing.T) {
	type testCase struct {
		name     string
		files    map[string]string
		checkErr func(*testing.T, error)
	}
	cases := []testCase{
		{
			name: "missing manifest",
			files: map[string]string{
				"app.py":   "print('hello')\n",
				"Procfile": "web: python app.py\n",
			},
			checkErr: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrMissingManifest)
			},
		},
		{
			name: "missing Procfile",
			files: map[string]string{
				"app.py":           "print('hello')\n",
				"requirements.txt": "flask==2.3.2\n",
			},
			checkErr: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrMissingProcfile)
			},
		},
		{
			name: "malformed manifest",
			files: map[string]string{
				"requirements.txt": "flask>=2.0\n",
				"Procfile":         "web: python app.py\n",
			},
			checkErr: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "invalid requirements.txt")
			},
		},
		{
			name: "unsupported runtime",
			files: map[string]string{
				"requirements.txt": "flask==2.3.2\n",
				"Procfile":         "web: python app.py\n",
				"runtime.txt":      "fortran-2018.0.0\n",
			},
			checkErr: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "not supported")
			},
		},
	}
	t.Parallel()
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			b := New(Config{
				Root:              t.TempDir(),
				SupportedRuntimes: []string{"python"},
			}, &capturePublisher{}).WithRunner(
				runnerFunc(func(context.Context, string, []string, io.Writer) error {
					t.Fatal("installer must not run when validation fails")
					return nil
				}))
			_, err := b.Build(context.Background(), "chem-ia-planner", 1, archive(t, tc.files))
			tc.checkErr(t, err)
		})
	}
}

func TestBuildInstallerFailure(t *testing.T) {
	t.Parallel()
	logs := &capturePublisher{}
	b := New(Config{Root: t.TempDir()}, logs).WithRunner(
		runnerFunc(func(_ context.Context, _ string, _ []string, out io.Writer) error {
			fmt.Fprintf(out, "ERROR: No matching distribution found for streamlit==1.27.0\n")
			return fmt.Errorf("exit status 1")
		}))

	_, err := b.Build(context.Background(), "chem-ia-planner", 1, archive(t, appSource))
	assert.ErrorContains(t, err, "dependency installation failed")
	assert.Contains(t, logs.texts(), "ERROR: No matching distribution found for streamlit==1.27.0")
}

func TestUnpackRejectsEscapingEntries(t *testing.T) {
	t.Parallel()
	b := New(Config{Root: t.TempDir()}, &capturePublisher{})
	_, err := b.Build(context.Background(), "chem-ia-planner", 1, archive(t, map[string]string{
		"../outside.txt": "nope\n",
	}))
	assert.ErrorContains(t, err, "escapes the release directory")
}
