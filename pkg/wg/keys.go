package wg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pyjam-as/tunnel/pkg/shell"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// Well known errors of the provisioning core
var ErrKeyGeneration = errors.New("Failed to generate WireGuard private key")
var ErrKeyDerivation = errors.New("Failed to derive WireGuard public key")

// KeySource produces WireGuard keypairs.
// The default implementation shells out to the 'wg' binary, so our key handling
// is exactly the same as the tooling that admins use by hand. Tests substitute
// an in-process implementation.
type KeySource interface {
	GeneratePrivateKey() (wgtypes.Key, error)
	PublicKey(private wgtypes.Key) (wgtypes.Key, error)
}

// ExecKeySource generates keys by invoking the 'wg' binary.
type ExecKeySource struct {
	Timeout time.Duration // Bounds one 'wg' invocation
}

func NewExecKeySource() *ExecKeySource {
	return &ExecKeySource{Timeout: 10 * time.Second}
}

func (s *ExecKeySource) GeneratePrivateKey() (wgtypes.Key, error) {
	out, err := s.run("", "wg", "genkey")
	if err != nil {
		return wgtypes.Key{}, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	key, err := wgtypes.ParseKey(strings.TrimSpace(out))
	if err != nil {
		return wgtypes.Key{}, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	return key, nil
}

func (s *ExecKeySource) PublicKey(private wgtypes.Key) (wgtypes.Key, error) {
	out, err := s.run(private.String(), "wg", "pubkey")
	if err != nil {
		return wgtypes.Key{}, fmt.Errorf("%w: %v", ErrKeyDerivation, err)
	}
	key, err := wgtypes.ParseKey(strings.TrimSpace(out))
	if err != nil {
		return wgtypes.Key{}, fmt.Errorf("%w: %v", ErrKeyDerivation, err)
	}
	return key, nil
}

func (s *ExecKeySource) run(input string, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()
	return shell.RunInput(ctx, input, name, args...)
}
