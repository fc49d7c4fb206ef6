package pipeline

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Workspace owns the temporary files of one run. They live next to the output
// so the final rename never crosses file systems.
type Workspace struct {
	dir    string
	prefix string
	paths  []string
}

// NewWorkspace creates the output directory when missing
func NewWorkspace(output string) (*Workspace, error) {
	dir := filepath.Dir(output)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "Can't create output directory")
	}
	base := strings.TrimSuffix(filepath.Base(output), filepath.Ext(output))
	return &Workspace{
		dir:    dir,
		prefix: "." + base + "." + uuid.NewString(),
	}, nil
}

// Path reserves a unique file name with the given tag and extension
func (w *Workspace) Path(tag, ext string) string {
	p := filepath.Join(w.dir, w.prefix+"."+tag+ext)
	w.paths = append(w.paths, p)
	return p
}

// Commit atomically moves a workspace file to dst
func (w *Workspace) Commit(src, dst string) error {
	st, err := os.Stat(src)
	if err != nil {
		return errors.Wrap(err, "expected output is absent")
	}
	if st.Size() == 0 {
		return errors.Errorf("output '%s' is empty", src)
	}
	if err := os.Rename(src, dst); err != nil {
		return errors.Wrapf(err, "Can't move output to '%s'", dst)
	}
	return nil
}

// Release removes every reserved file that still exists
func (w *Workspace) Release() {
	for _, p := range w.paths {
		os.Remove(p)
	}
	w.paths = nil
}
