package shell

import (
	"context"
	"os/exec"
	"strings"
)

// We prefer to return stderr over the process exit code
type ExitErrorVerbose struct {
	E exec.ExitError
}

func (e ExitErrorVerbose) Error() string {
	if len(e.E.Stderr) != 0 {
		return strings.TrimSpace(string(e.E.Stderr))
	}
	return e.E.Error()
}

// Run executes a command and returns its stdout.
func Run(name string, args ...string) (string, error) {
	return RunInput(context.Background(), "", name, args...)
}

// RunInput executes a command with stdin fed from 'input', and returns its
// stdout. The context deadline bounds the lifetime of the process.
func RunInput(ctx context.Context, input string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", ExitErrorVerbose{*exitErr}
		}
		return "", err
	}
	return string(out), nil
}
