package gitops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// Cause distinguishes why a publish step failed.
type Cause string

const (
	// CauseTimeout marks a step that ran out of time.
	CauseTimeout Cause = "timeout"
	// CauseFailed marks every other step failure.
	CauseFailed Cause = "failed"
)

// PublishError reports which publish step failed and why.
type PublishError struct {
	Step  string
	Cause Cause
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish step %s %s: %v", e.Step, e.Cause, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Publisher turns working trees into the initial commit history of a
// freshly created repository and pushes it to the host.
type Publisher struct {
	committerName  string
	committerEmail string
	token          string
	stepTimeout    time.Duration
	pushTimeout    time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// New returns a Publisher committing as the given service identity and
// authenticating over HTTP with the host token.
func New(committerName, committerEmail, token string, stepTimeout, pushTimeout time.Duration, logger *slog.Logger) *Publisher {
	return &Publisher{
		committerName:  committerName,
		committerEmail: committerEmail,
		token:          token,
		stepTimeout:    stepTimeout,
		pushTimeout:    pushTimeout,
		logger:         logger,
		now:            time.Now,
	}
}

// Publish commits everything under workTree onto main and pushes it to
// remoteURL. A repository seeded on the host side, for example with a
// generated README, is reconciled by merging the two unrelated histories
// before pushing. The project name labels the README synthesized for a
// working tree with no content of its own.
func (p *Publisher) Publish(ctx context.Context, workTree, remoteURL, name string) error {
	repo, err := p.prepareRepository(workTree)
	if err != nil {
		return err
	}
	if err := p.commitWorkTree(repo, workTree, name, remoteURL); err != nil {
		return err
	}

	var auth transport.AuthMethod
	if p.token != "" {
		auth = &githttp.BasicAuth{Username: "oauth2", Password: p.token}
	}
	if _, err := repo.CreateRemote(&config.RemoteConfig{
		Name: "origin",
		URLs: []string{remoteURL},
	}); err != nil && !errors.Is(err, git.ErrRemoteExists) {
		return &PublishError{Step: "remote", Cause: CauseFailed, Err: err}
	}

	if err := p.fetchRemoteMain(ctx, repo, auth); err != nil {
		return err
	}
	if err := p.reconcile(repo, workTree); err != nil {
		return err
	}
	if err := p.push(ctx, repo, auth); err != nil {
		return err
	}

	// Record tracking config so later pulls in the working tree follow
	// origin/main without extra arguments.
	err = repo.CreateBranch(&config.Branch{Name: "main", Remote: "origin", Merge: plumbing.Main})
	if err != nil && !errors.Is(err, git.ErrBranchExists) {
		return &PublishError{Step: "branch", Cause: CauseFailed, Err: err}
	}

	p.logger.Info("working tree published", "work_tree", workTree, "remote", remoteURL)
	return nil
}

// prepareRepository opens the repository at workTree, initializing one with
// main as the default branch when none exists. A pre-existing repository on
// another branch has its head moved onto main.
func (p *Publisher) prepareRepository(workTree string) (*git.Repository, error) {
	repo, err := git.PlainOpen(workTree)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInitWithOptions(workTree, &git.PlainInitOptions{
			InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
		})
		if err != nil {
			return nil, &PublishError{Step: "init", Cause: CauseFailed, Err: err}
		}
		return repo, nil
	}
	if err != nil {
		return nil, &PublishError{Step: "init", Cause: CauseFailed, Err: err}
	}

	head, err := repo.Head()
	if err == nil && head.Name() != plumbing.Main {
		if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.Main, head.Hash())); err != nil {
			return nil, &PublishError{Step: "init", Cause: CauseFailed, Err: err}
		}
		if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.Main)); err != nil {
			return nil, &PublishError{Step: "init", Cause: CauseFailed, Err: err}
		}
	}
	return repo, nil
}

func (p *Publisher) commitWorkTree(repo *git.Repository, workTree, name, remoteURL string) error {
	wt, err := repo.Worktree()
	if err != nil {
		return &PublishError{Step: "commit", Cause: CauseFailed, Err: err}
	}

	if empty, err := workTreeEmpty(workTree); err != nil {
		return &PublishError{Step: "commit", Cause: CauseFailed, Err: err}
	} else if empty {
		// Git cannot record an empty tree as a project seed, so give
		// projects created without content a starting file.
		readme := filepath.Join(workTree, "README.md")
		if err := os.WriteFile(readme, []byte(p.seedReadme(name, remoteURL)), 0o644); err != nil {
			return &PublishError{Step: "commit", Cause: CauseFailed, Err: err}
		}
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return &PublishError{Step: "commit", Cause: CauseFailed, Err: err}
	}
	status, err := wt.Status()
	if err != nil {
		return &PublishError{Step: "commit", Cause: CauseFailed, Err: err}
	}
	if status.IsClean() {
		if _, err := repo.Head(); err == nil {
			return nil
		}
	}

	_, err = wt.Commit("Initial project import", &git.CommitOptions{
		Author: p.signature(),
	})
	if err != nil {
		return &PublishError{Step: "commit", Cause: CauseFailed, Err: err}
	}
	return nil
}

func (p *Publisher) fetchRemoteMain(ctx context.Context, repo *git.Repository, auth transport.AuthMethod) error {
	fetchCtx, cancel := context.WithTimeout(ctx, p.stepTimeout)
	defer cancel()

	err := repo.FetchContext(fetchCtx, &git.FetchOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{"+refs/heads/main:refs/remotes/origin/main"},
		Auth:       auth,
	})
	switch {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
		return nil
	case errors.Is(err, transport.ErrEmptyRemoteRepository):
		// A repository created without host side seeding has nothing
		// to reconcile against.
		return nil
	case errors.Is(err, git.NoMatchingRefSpecError{}):
		return nil
	default:
		return p.stepError("fetch", err)
	}
}

// reconcile merges the host seeded history into the local one. Files present
// only on the remote side are carried over, then a merge commit joins the two
// unrelated histories so the following push is a fast forward.
func (p *Publisher) reconcile(repo *git.Repository, workTree string) error {
	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", "main"), true)
	if err != nil {
		// No remote main fetched, nothing to merge.
		return nil
	}
	head, err := repo.Head()
	if err != nil {
		return &PublishError{Step: "merge", Cause: CauseFailed, Err: err}
	}
	if head.Hash() == remoteRef.Hash() {
		return nil
	}

	remoteCommit, err := repo.CommitObject(remoteRef.Hash())
	if err != nil {
		return &PublishError{Step: "merge", Cause: CauseFailed, Err: err}
	}
	tree, err := remoteCommit.Tree()
	if err != nil {
		return &PublishError{Step: "merge", Cause: CauseFailed, Err: err}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return &PublishError{Step: "merge", Cause: CauseFailed, Err: err}
	}
	err = tree.Files().ForEach(func(f *object.File) error {
		target := filepath.Join(workTree, filepath.FromSlash(f.Name))
		if _, statErr := os.Stat(target); statErr == nil {
			// Local content wins on both sides touching a path.
			return nil
		}
		reader, openErr := f.Blob.Reader()
		if openErr != nil {
			return openErr
		}
		defer reader.Close()
		if mkErr := os.MkdirAll(filepath.Dir(target), 0o755); mkErr != nil {
			return mkErr
		}
		out, createErr := os.Create(target)
		if createErr != nil {
			return createErr
		}
		defer out.Close()
		_, copyErr := io.Copy(out, reader)
		return copyErr
	})
	if err != nil {
		return &PublishError{Step: "merge", Cause: CauseFailed, Err: err}
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return &PublishError{Step: "merge", Cause: CauseFailed, Err: err}
	}
	_, err = wt.Commit("Merge repository seed", &git.CommitOptions{
		Author:            p.signature(),
		Parents:           []plumbing.Hash{head.Hash(), remoteRef.Hash()},
		AllowEmptyCommits: true,
	})
	if err != nil {
		return &PublishError{Step: "merge", Cause: CauseFailed, Err: err}
	}
	return nil
}

func (p *Publisher) push(ctx context.Context, repo *git.Repository, auth transport.AuthMethod) error {
	pushCtx, cancel := context.WithTimeout(ctx, p.pushTimeout)
	defer cancel()

	err := repo.PushContext(pushCtx, &git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{"refs/heads/main:refs/heads/main"},
		Auth:       auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return p.stepError("push", err)
	}
	return nil
}

func (p *Publisher) seedReadme(name, remoteURL string) string {
	return fmt.Sprintf(`# %s

This project was created automatically via MoonOps.

- Created: %s
- Repository: %s
`, name, p.now().Format("2006-01-02 15:04:05"), remoteURL)
}

func (p *Publisher) signature() *object.Signature {
	return &object.Signature{
		Name:  p.committerName,
		Email: p.committerEmail,
		When:  p.now(),
	}
}

func (p *Publisher) stepError(step string, err error) *PublishError {
	cause := CauseFailed
	if errors.Is(err, context.DeadlineExceeded) {
		cause = CauseTimeout
	}
	return &PublishError{Step: step, Cause: cause, Err: err}
}

func workTreeEmpty(workTree string) (bool, error) {
	entries, err := os.ReadDir(workTree)
	if err != nil {
		return false, err
	}
	for _, entry := range entries {
		if entry.Name() == ".git" {
			continue
		}
		return false, nil
	}
	return true, nil
}
