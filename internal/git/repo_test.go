package git

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644))
}

func TestInit(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	repo, created, err := Init(dir)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotNil(t, repo)

	// second call opens the existing repository
	_, created, err = Init(dir)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestCommitAll(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	repo, _, err := Init(dir)
	require.NoError(t, err)

	writeFile(t, dir, "requirements.txt", "streamlit==1.27.0\n")
	writeFile(t, dir, "Procfile", "web: streamlit run app.py\n")

	hash, err := repo.CommitAll("initial deploy")
	require.NoError(t, err)
	assert.Len(t, hash, 40)

	head, summary, err := repo.Head()
	require.NoError(t, err)
	assert.Equal(t, hash, head)
	assert.Equal(t, "initial deploy", summary)

	// clean worktree: no new commit, same hash back
	again, err := repo.CommitAll("nothing changed")
	require.NoError(t, err)
	assert.Equal(t, hash, again)

	// a new file produces a new commit
	writeFile(t, dir, "runtime.txt", "python-3.11.4\n")
	next, err := repo.CommitAll("pin runtime")
	require.NoError(t, err)
	assert.NotEqual(t, hash, next)
}

func TestArchive(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	repo, _, err := Init(dir)
	require.NoError(t, err)

	writeFile(t, dir, "app.py", "print('hello')\n")
	writeFile(t, dir, "pages/analysis.py", "# analysis page\n")
	_, err = repo.CommitAll("initial deploy")
	require.NoError(t, err)

	// an uncommitted file must not appear in the archive
	writeFile(t, dir, "scratch.txt", "do not ship\n")

	var buf bytes.Buffer
	require.NoError(t, repo.Archive(&buf))

	gz, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	files := map[string]string{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[hdr.Name] = string(data)
	}
	assert.Equal(t, map[string]string{
		"app.py":            "print('hello')\n",
		"pages/analysis.py": "# analysis page\n",
	}, files)
}

func TestEnsureRemote(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	repo, _, err := Init(dir)
	require.NoError(t, err)

	require.NoError(t, repo.EnsureRemote("slipway", "https://git.slipway.dev/chem-ia-planner.git"))
	// idempotent for the same URL
	require.NoError(t, repo.EnsureRemote("slipway", "https://git.slipway.dev/chem-ia-planner.git"))
	// replaced when the URL changes
	require.NoError(t, repo.EnsureRemote("slipway", "https://git.slipway.dev/renamed.git"))
}

func TestPushToLocalRemote(t *testing.T) {
	t.Parallel()
	src := t.TempDir()
	repo, _, err := Init(src)
	require.NoError(t, err)
	writeFile(t, src, "app.py", "print('hello')\n")
	_, err = repo.CommitAll("initial deploy")
	require.NoError(t, err)

	// bare target repository on disk stands in for the platform remote
	bare := t.TempDir()
	initBare(t, bare)

	require.NoError(t, repo.EnsureRemote("slipway", bare))
	require.NoError(t, repo.Push(context.Background(), "slipway", ""))
	// pushing again with nothing new is still success
	require.NoError(t, repo.Push(context.Background(), "slipway", ""))
	// an explicit refspec pushes the same branch
	require.NoError(t, repo.Push(context.Background(), "slipway", "refs/heads/master"))
}

func TestVersionTag(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	repo, _, err := Init(dir)
	require.NoError(t, err)
	writeFile(t, dir, "app.py", "print('hello')\n")
	hash, err := repo.CommitAll("initial deploy")
	require.NoError(t, err)

	// untagged HEAD
	tag, err := repo.VersionTag()
	require.NoError(t, err)
	assert.Empty(t, tag)

	_, err = repo.repo.CreateTag("v1.2.0", plumbing.NewHash(hash), nil)
	require.NoError(t, err)
	tag, err = repo.VersionTag()
	require.NoError(t, err)
	assert.Equal(t, "v1.2.0", tag)

	// ambiguous when more than one tag points at HEAD
	_, err = repo.repo.CreateTag("release-candidate", plumbing.NewHash(hash), nil)
	require.NoError(t, err)
	_, err = repo.VersionTag()
	assert.ErrorContains(t, err, "multiple tags")
}
