package media

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// maxStderr bounds how much of a tool's diagnostics is kept for error messages
const maxStderr = 8 << 10

// Exec runs a command and returns its stdout. On failure the error carries stderr
func Exec(ctx context.Context, command ...string) (string, error) {
	if len(command) == 0 {
		return "", errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	var out bytes.Buffer
	var errout bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errout

	err := cmd.Run()
	if err != nil {
		return "", toolError(err, command[0], errout.String())
	}
	return out.String(), nil
}

func toolError(err error, name, stderr string) error {
	stderr = strings.TrimSpace(stderr)
	if len(stderr) > maxStderr {
		stderr = stderr[len(stderr)-maxStderr:]
	}
	if stderr == "" {
		return errors.Wrapf(err, "%s failed", name)
	}
	return errors.Wrapf(err, "%s failed: %s", name, stderr)
}

// tailBuffer keeps the last maxStderr bytes written to it
type tailBuffer struct {
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > maxStderr {
		t.buf = append(t.buf[:0], t.buf[len(t.buf)-maxStderr:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}
