package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

var ErrReleased = errors.New("workspace already released")

// Manager hands out ephemeral per-execution directories under a common root.
type Manager struct {
	root       string
	sourceFile string
	inputFile  string
}

func NewManager(root, sourceFile, inputFile string) (*Manager, error) {
	if sourceFile == "" || inputFile == "" {
		return nil, fmt.Errorf("workspace file names must not be empty")
	}
	if sourceFile == inputFile {
		return nil, fmt.Errorf("source and input file names must differ")
	}
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create workspace root %s: %w", root, err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	return &Manager{root: abs, sourceFile: sourceFile, inputFile: inputFile}, nil
}

func (m *Manager) Root() string {
	return m.root
}

// Acquire creates a fresh empty directory. Mkdir fails on an existing path,
// so two acquisitions never share a directory.
func (m *Manager) Acquire() (*Workspace, error) {
	dir := filepath.Join(m.root, "ws-"+uuid.NewString())
	if err := os.Mkdir(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	// Mkdir is subject to umask; the sandbox user must be able to traverse.
	if err := os.Chmod(dir, dirPerm); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to chmod workspace: %w", err)
	}
	return &Workspace{
		dir:        dir,
		sourceFile: m.sourceFile,
		inputFile:  m.inputFile,
	}, nil
}

type Workspace struct {
	dir        string
	sourceFile string
	inputFile  string
	hasInput   bool
	released   bool
}

func (w *Workspace) Dir() string        { return w.dir }
func (w *Workspace) SourceFile() string { return w.sourceFile }
func (w *Workspace) HasInput() bool     { return w.hasInput }

func (w *Workspace) WriteSource(code string) error {
	return w.write(w.sourceFile, code)
}

func (w *Workspace) WriteInput(text string) error {
	if err := w.write(w.inputFile, text); err != nil {
		return err
	}
	w.hasInput = true
	return nil
}

func (w *Workspace) write(name, content string) error {
	if w.released {
		return ErrReleased
	}
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, []byte(content), filePerm); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// Release removes the directory and everything in it. Calling it more than
// once is a no-op.
func (w *Workspace) Release() error {
	if w.released {
		return nil
	}
	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("failed to remove workspace %s: %w", w.dir, err)
	}
	w.released = true
	return nil
}
