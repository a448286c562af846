package git

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// defaultSignature is used for commits created by the CLI when the repository
// has no user configured.
var defaultSignature = object.Signature{
	Name:  "slipway",
	Email: "deploy@slipway.dev",
}

// Repo wraps a Git repository.
type Repo struct {
	repo *git.Repository
}

// Open opens a Git repository at the specified path.
func Open(dir string) (*Repo, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("unable to open Git repository at %q: %w", dir, err)
	}
	return &Repo{
		repo: repo,
	}, nil
}

// Init opens the Git repository at the specified path, initializing a new one
// if the directory is not yet under version control.  The returned boolean is
// true if a new repository was created.
func Init(dir string) (*Repo, bool, error) {
	repo, err := git.PlainOpen(dir)
	if err == nil {
		return &Repo{repo: repo}, false, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, false, fmt.Errorf("unable to open Git repository at %q: %w", dir, err)
	}
	repo, err = git.PlainInit(dir, false)
	if err != nil {
		return nil, false, fmt.Errorf("unable to initialize Git repository at %q: %w", dir, err)
	}
	return &Repo{repo: repo}, true, nil
}

// CommitAll stages the entire worktree and creates a commit with the provided
// message, returning the resulting commit hash.  If the worktree is clean the
// current HEAD hash is returned and no commit is created.
func (r *Repo) CommitAll(msg string) (string, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("unable to access the repository worktree: %w", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("unable to stage worktree changes: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("unable to read worktree status: %w", err)
	}
	if status.IsClean() {
		head, _, err := r.Head()
		if err != nil {
			return "", fmt.Errorf("nothing to commit and no existing commit found: %w", err)
		}
		return head, nil
	}

	sig := defaultSignature
	sig.When = time.Now()
	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author: &sig,
	})
	if err != nil {
		return "", fmt.Errorf("unable to create commit: %w", err)
	}
	return hash.String(), nil
}

// Head returns the hash and message summary of the current HEAD commit.
func (r *Repo) Head() (hash, summary string, err error) {
	ref, err := r.repo.Head()
	if err != nil {
		return "", "", fmt.Errorf("unable to resolve HEAD: %w", err)
	}
	commit, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return "", "", fmt.Errorf("unable to read HEAD commit: %w", err)
	}
	summary = commit.Message
	if idx := strings.IndexByte(summary, '\n'); idx != -1 {
		summary = summary[:idx]
	}
	return ref.Hash().String(), summary, nil
}

// Archive writes a gzipped tarball of the file tree at HEAD to w.  Only
// committed content is included, mirroring what a Git transfer to the
// platform would carry.
func (r *Repo) Archive(w io.Writer) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("error archiving Git repository: %w", err)
		}
	}()

	ref, err := r.repo.Head()
	if err != nil {
		return err
	}
	commit, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return err
	}
	tree, err := commit.Tree()
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	err = tree.Files().ForEach(func(f *object.File) error {
		mode, err := f.Mode.ToOSFileMode()
		if err != nil {
			return err
		}
		hdr := tar.Header{
			Name:    f.Name,
			Mode:    int64(mode.Perm()),
			Size:    f.Size,
			ModTime: commit.Author.When,
		}
		if err := tw.WriteHeader(&hdr); err != nil {
			return err
		}
		rc, err := f.Reader()
		if err != nil {
			return err
		}
		defer func() { _ = rc.Close() }()
		_, err = io.Copy(tw, rc)
		return err
	})
	if err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

// EnsureRemote creates the named remote pointing at url, replacing an
// existing remote of the same name if it points elsewhere.
func (r *Repo) EnsureRemote(name, url string) error {
	remote, err := r.repo.Remote(name)
	switch {
	case err == nil:
		urls := remote.Config().URLs
		if len(urls) == 1 && urls[0] == url {
			return nil
		}
		if err := r.repo.DeleteRemote(name); err != nil {
			return fmt.Errorf("unable to replace remote %q: %w", name, err)
		}
	case !errors.Is(err, git.ErrRemoteNotFound):
		return fmt.Errorf("unable to read remote %q: %w", name, err)
	}
	if _, err := r.repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: name,
		URLs: []string{url},
	}); err != nil {
		return fmt.Errorf("unable to create remote %q: %w", name, err)
	}
	return nil
}

// Push transfers ref to the named remote, defaulting to the current branch
// when ref is empty.  A remote that is already up to date is treated as
// success.
func (r *Repo) Push(ctx context.Context, remote, ref string) error {
	opts := git.PushOptions{
		RemoteName: remote,
	}
	if ref != "" {
		opts.RefSpecs = []gitconfig.RefSpec{gitconfig.RefSpec(ref + ":" + ref)}
	}
	err := r.repo.PushContext(ctx, &opts)
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("unable to push to remote %q: %w", remote, err)
	}
	return nil
}

// VersionTag returns the tag name pointing at HEAD, if exactly one exists.
// An empty string is returned when HEAD is untagged.
func (r *Repo) VersionTag() (string, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("unable to resolve HEAD: %w", err)
	}
	hh := ref.Hash()

	var tags []string
	iter, err := r.repo.Tags()
	if err != nil {
		return "", fmt.Errorf("error inspecting Git repository: %w", err)
	}
	_ = iter.ForEach(func(t *plumbing.Reference) error {
		if t.Hash() == hh {
			tags = append(tags, t.Name().Short())
		}
		return nil
	})
	switch len(tags) {
	case 1:
		return tags[0], nil
	case 0:
		return "", nil
	default:
		return "", fmt.Errorf("multiple tags exist at the current commit: %v", tags)
	}
}
