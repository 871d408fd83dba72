package gitops

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func newTestPublisher(t *testing.T) *Publisher {
	t.Helper()
	return New("MoonOps", "moonops@techconsulting.fr", "",
		10*time.Second, 10*time.Second,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newBareRemote(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if _, err := git.PlainInit(dir, true); err != nil {
		t.Fatalf("init bare remote: %v", err)
	}
	return dir
}

// remoteMain returns the commit at refs/heads/main of the bare repository
// together with its tree contents keyed by path.
func remoteMain(t *testing.T, remoteDir string) (*object.Commit, map[string]string) {
	t.Helper()
	repo, err := git.PlainOpen(remoteDir)
	if err != nil {
		t.Fatalf("open remote: %v", err)
	}
	ref, err := repo.Reference(plumbing.Main, true)
	if err != nil {
		t.Fatalf("remote main ref: %v", err)
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		t.Fatalf("remote main commit: %v", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		t.Fatalf("remote main tree: %v", err)
	}
	files := map[string]string{}
	err = tree.Files().ForEach(func(f *object.File) error {
		content, err := f.Contents()
		if err != nil {
			return err
		}
		files[f.Name] = content
		return nil
	})
	if err != nil {
		t.Fatalf("walk remote tree: %v", err)
	}
	return commit, files
}

func TestPublishWorkTreeContent(t *testing.T) {
	remote := newBareRemote(t)
	workTree := t.TempDir()
	if err := os.WriteFile(filepath.Join(workTree, "index.js"), []byte("console.log('hi')\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(workTree, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(workTree, "src", "app.js"), []byte("export {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	publisher := newTestPublisher(t)
	if err := publisher.Publish(context.Background(), workTree, remote, "demo"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	commit, files := remoteMain(t, remote)
	if _, ok := files["index.js"]; !ok {
		t.Errorf("index.js missing from pushed tree, have %v", files)
	}
	if _, ok := files["src/app.js"]; !ok {
		t.Errorf("src/app.js missing from pushed tree, have %v", files)
	}
	if commit.Author.Name != "MoonOps" || commit.Author.Email != "moonops@techconsulting.fr" {
		t.Errorf("author = %s <%s>, want service identity", commit.Author.Name, commit.Author.Email)
	}
}

func TestPublishEmptyWorkTreeSynthesizesReadme(t *testing.T) {
	remote := newBareRemote(t)
	workTree := t.TempDir()

	publisher := newTestPublisher(t)
	publisher.now = func() time.Time {
		return time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)
	}
	if err := publisher.Publish(context.Background(), workTree, remote, "My Site"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	_, files := remoteMain(t, remote)
	readme, ok := files["README.md"]
	if !ok {
		t.Fatalf("empty working tree should push a README seed, have %v", files)
	}
	if !strings.HasPrefix(readme, "# My Site\n") {
		t.Errorf("README.md = %q, want heading with the project name", readme)
	}
	if !strings.Contains(readme, "2025-03-14 15:09:26") {
		t.Errorf("README.md = %q, want the creation timestamp", readme)
	}
	if !strings.Contains(readme, remote) {
		t.Errorf("README.md = %q, want the repository url %q", readme, remote)
	}
}

func TestPublishMovesExistingRepositoryOntoMain(t *testing.T) {
	remote := newBareRemote(t)
	workTree := t.TempDir()

	repo, err := git.PlainInitWithOptions(workTree, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName("master")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(workTree, "main.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Commit("first", &git.CommitOptions{
		Author: &object.Signature{Name: "dev", Email: "dev@example.com", When: time.Now()},
	}); err != nil {
		t.Fatal(err)
	}

	publisher := newTestPublisher(t)
	if err := publisher.Publish(context.Background(), workTree, remote, "demo"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	head, err := repo.Head()
	if err != nil {
		t.Fatalf("local head: %v", err)
	}
	if head.Name() != plumbing.Main {
		t.Errorf("local head = %s, want refs/heads/main", head.Name())
	}
	_, files := remoteMain(t, remote)
	if _, ok := files["main.go"]; !ok {
		t.Errorf("main.go missing from pushed tree, have %v", files)
	}
}

func TestPublishReconcilesSeededRemote(t *testing.T) {
	remote := newBareRemote(t)
	seedRemote(t, remote, map[string]string{"README.md": "# seeded\n"})

	workTree := t.TempDir()
	if err := os.WriteFile(filepath.Join(workTree, "index.js"), []byte("console.log('hi')\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	publisher := newTestPublisher(t)
	if err := publisher.Publish(context.Background(), workTree, remote, "demo"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	commit, files := remoteMain(t, remote)
	if files["README.md"] != "# seeded\n" {
		t.Errorf("seeded README.md lost, have %v", files)
	}
	if _, ok := files["index.js"]; !ok {
		t.Errorf("index.js missing from merged tree, have %v", files)
	}
	if commit.NumParents() != 2 {
		t.Errorf("merge commit parents = %d, want 2", commit.NumParents())
	}
}

func TestPublishLocalContentWinsOnConflict(t *testing.T) {
	remote := newBareRemote(t)
	seedRemote(t, remote, map[string]string{"README.md": "# seeded\n"})

	workTree := t.TempDir()
	if err := os.WriteFile(filepath.Join(workTree, "README.md"), []byte("# mine\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	publisher := newTestPublisher(t)
	if err := publisher.Publish(context.Background(), workTree, remote, "demo"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	_, files := remoteMain(t, remote)
	if files["README.md"] != "# mine\n" {
		t.Errorf("README.md = %q, want local content to win", files["README.md"])
	}
}

// seedRemote gives the bare repository an initial main history, the way a
// host does when asked to initialize a repository with a README.
func seedRemote(t *testing.T, remoteDir string, files map[string]string) {
	t.Helper()
	seedDir := t.TempDir()
	repo, err := git.PlainInitWithOptions(seedDir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	if err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(seedDir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Commit("seed", &git.CommitOptions{
		Author: &object.Signature{Name: "host", Email: "host@example.com", When: time.Now()},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.CreateRemote(&config.RemoteConfig{Name: "origin", URLs: []string{remoteDir}}); err != nil {
		t.Fatal(err)
	}
	if err := repo.Push(&git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{"refs/heads/main:refs/heads/main"},
	}); err != nil {
		t.Fatal(err)
	}
}
