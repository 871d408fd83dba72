package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"log/slog"

	"github.com/Ourajeenn/MoonOps-V2/internal/workspace"
)

// Extractor materializes uploaded zip archives into working trees.
type Extractor struct {
	workspaces *workspace.Manager
	logger     *slog.Logger
}

// New returns an Extractor writing under the provided workspace manager.
func New(workspaces *workspace.Manager, logger *slog.Logger) *Extractor {
	return &Extractor{workspaces: workspaces, logger: logger}
}

// Extract unpacks the archive into a fresh working tree and returns its path.
// When the archive consists of a single wrapping directory its contents are
// hoisted to the tree root. The caller owns deletion of the returned path.
func (e *Extractor) Extract(data []byte, nameHint string) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}

	dest, err := e.workspaces.Allocate(nameHint)
	if err != nil {
		return "", fmt.Errorf("allocate working tree: %w", err)
	}

	// Unpack into a staging directory first so a malformed archive never
	// leaves a half-populated tree at the final path.
	staging := filepath.Join(dest, ".unpack")
	if err := e.unpack(reader, staging); err != nil {
		_ = e.workspaces.Cleanup(dest)
		return "", err
	}
	if err := promote(staging, dest); err != nil {
		_ = e.workspaces.Cleanup(dest)
		return "", fmt.Errorf("finalize working tree: %w", err)
	}
	e.logger.Info("archive extracted", "dest", dest, "entries", len(reader.File))
	return dest, nil
}

func (e *Extractor) unpack(reader *zip.Reader, staging string) error {
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	for _, entry := range reader.File {
		target, err := securePath(staging, entry.Name)
		if err != nil {
			return err
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", entry.Name, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create parent dir for %s: %w", entry.Name, err)
		}
		if err := writeEntry(entry, target); err != nil {
			return err
		}
	}
	return nil
}

func writeEntry(entry *zip.File, target string) error {
	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open archive entry %s: %w", entry.Name, err)
	}
	defer src.Close()

	mode := entry.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create file %s: %w", entry.Name, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("write file %s: %w", entry.Name, err)
	}
	return nil
}

// securePath rejects entries that would escape the staging directory.
func securePath(root, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(os.PathSeparator)) || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("archive entry escapes working tree: %s", name)
	}
	return filepath.Join(root, cleaned), nil
}

// promote moves extracted content from staging into the final working tree,
// hoisting a single wrapping directory when the archive ships one.
func promote(staging, dest string) error {
	src := staging
	entries, err := os.ReadDir(staging)
	if err != nil {
		return err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		src = filepath.Join(staging, entries[0].Name())
		entries, err = os.ReadDir(src)
		if err != nil {
			return err
		}
	}
	for _, entry := range entries {
		if err := os.Rename(filepath.Join(src, entry.Name()), filepath.Join(dest, entry.Name())); err != nil {
			return err
		}
	}
	return os.RemoveAll(staging)
}
