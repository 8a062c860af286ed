// Package workspace provisions scratch copies of a working tree so that
// gates with fix-forward commands mutate an isolated checkout instead of
// the caller's directory. Change-sets running concurrently each get their
// own scratch tree.
package workspace

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// StateDir is the engine's own state directory inside a working tree. It is
// never copied into a scratch tree.
const StateDir = ".mergeflow"

// Scratch is an isolated copy of a working tree.
type Scratch struct {
	// Dir is the root of the scratch copy.
	Dir string

	cleanup func() error
}

// Close removes the scratch tree.
func (s *Scratch) Close() error {
	if s.cleanup == nil {
		return nil
	}
	return s.cleanup()
}

// Clone copies the working tree at src into a fresh temp directory. The
// engine's own state under .mergeflow/ is skipped; everything else,
// including dotfiles the gates' tools may need, is copied with file modes
// preserved.
func Clone(src string) (*Scratch, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace path %s is not a directory", src)
	}

	dir, err := os.MkdirTemp("", "mergeflow-workspace-*")
	if err != nil {
		return nil, err
	}
	cleanup := func() error { return os.RemoveAll(dir) }

	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if skipEntry(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		dest := filepath.Join(dir, rel)
		if d.IsDir() {
			return os.MkdirAll(dest, 0755)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, dest, info.Mode())
	})
	if err != nil {
		cleanup()
		return nil, err
	}

	return &Scratch{Dir: dir, cleanup: cleanup}, nil
}

func skipEntry(rel string) bool {
	parts := strings.Split(rel, string(filepath.Separator))
	return parts[0] == StateDir
}

func copyFile(src, dest string, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
