package wg

import (
	"context"
	"os"
	"time"

	"github.com/pyjam-as/tunnel/pkg/shell"
)

// Commander executes the wg-quick/wg operations that alter the running kernel
// interface. Tests substitute a fake, so that no interface tests need root.
type Commander interface {
	// Up brings up the interface described by confPath (wg-quick up).
	Up(confPath string) error
	// Reload applies the peer set of confPath to the running interface,
	// without disrupting already-connected peers.
	Reload(name, confPath string) error
}

// ExecCommander drives the real wg-quick and wg binaries.
type ExecCommander struct {
	Timeout time.Duration // Bounds one external invocation
}

func NewExecCommander() *ExecCommander {
	return &ExecCommander{Timeout: 20 * time.Second}
}

func (c *ExecCommander) Up(confPath string) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()
	_, err := shell.RunInput(ctx, "", "wg-quick", "up", confPath)
	return err
}

// Reload is the Go equivalent of `wg addconf <name> <(wg-quick strip <name>)`:
// strip the config down to what the kernel understands, then additively merge
// its peer set into the live interface.
func (c *ExecCommander) Reload(name, confPath string) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()
	stripped, err := shell.RunInput(ctx, "", "wg-quick", "strip", confPath)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp("", name+"-strip-*.conf")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(stripped); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	_, err = shell.RunInput(ctx, "", "wg", "addconf", name, tmp.Name())
	return err
}
