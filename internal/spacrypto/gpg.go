package spacrypto

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/nullbind/spafwd/internal/policy"
)

// gpgSubprocessTimeout bounds the blocking GPG call on the non-privileged
// path (§5: "bounded by a configured 5-second timeout on the
// non-privileged path").
const gpgSubprocessTimeout = 5 * time.Second

// ErrGPGNoPassphrase means the stanza configured neither a decrypt
// passphrase nor allow-no-passphrase.
var ErrGPGNoPassphrase = errors.New("gpg: no decrypt passphrase configured and allow_no_pw is false")

// ErrGPGSignatureInvalid means signature verification was required and
// did not succeed.
var ErrGPGSignatureInvalid = fmt.Errorf("%w: signature verification failed", ErrDecryptFailure)

type gpgContext struct {
	cfg        policy.GPGConfig
	passphrase string
}

// NewGPGContext builds a CryptoContext that shells out to gpg(1) for
// decryption, the external collaborator §1 keeps out of the core's scope
// but a runnable daemon must still invoke.
func NewGPGContext(cfg policy.GPGConfig) (CryptoContext, error) {
	if cfg.DecryptPW == "" && !cfg.AllowNoPW {
		return nil, ErrGPGNoPassphrase
	}
	exe := cfg.Exe
	if exe == "" {
		exe = "gpg"
	}
	if _, err := exec.LookPath(exe); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFkoCtxError, err)
	}

	return &gpgContext{cfg: cfg, passphrase: cfg.DecryptPW}, nil
}

func (c *gpgContext) Decrypt(payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), gpgSubprocessTimeout)
	defer cancel()

	args := []string{"--batch", "--yes", "--status-fd", "2"}
	if c.cfg.HomeDir != "" {
		args = append(args, "--homedir", c.cfg.HomeDir)
	}
	if c.passphrase != "" {
		args = append(args, "--pinentry-mode", "loopback", "--passphrase-fd", "0")
	}
	args = append(args, "--decrypt")

	exe := c.cfg.Exe
	if exe == "" {
		exe = "gpg"
	}
	cmd := exec.CommandContext(ctx, exe, args...)

	var stdin bytes.Buffer
	if c.passphrase != "" {
		stdin.WriteString(c.passphrase)
		stdin.WriteByte('\n')
	}
	stdin.Write(payload)
	cmd.Stdin = &stdin

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %w: %s", ErrDecryptFailure, err, strings.TrimSpace(stderr.String()))
	}

	if err := c.checkSignature(stderr.String()); err != nil {
		return nil, err
	}

	return stdout.Bytes(), nil
}

// checkSignature applies SPEC_FULL.md §C.2's fingerprint-before-ID
// precedence: a fingerprint allow-list, if configured, is checked first
// and preferred over the ID allow-list.
func (c *gpgContext) checkSignature(statusOutput string) error {
	if !c.cfg.RequireSig {
		return nil
	}

	if len(c.cfg.RemoteFprList) > 0 {
		for _, fpr := range c.cfg.RemoteFprList {
			if strings.Contains(statusOutput, fpr) {
				return nil
			}
		}
		if c.cfg.IgnoreSigError {
			return nil
		}
		return fmt.Errorf("%w: no configured fingerprint matched", ErrGPGSignatureInvalid)
	}

	if len(c.cfg.RemoteIDList) > 0 {
		for _, id := range c.cfg.RemoteIDList {
			if strings.Contains(statusOutput, id) {
				return nil
			}
		}
		if c.cfg.IgnoreSigError {
			return nil
		}
		return fmt.Errorf("%w: no configured signer id matched", ErrGPGSignatureInvalid)
	}

	if !strings.Contains(statusOutput, "GOODSIG") && !c.cfg.IgnoreSigError {
		return ErrGPGSignatureInvalid
	}

	return nil
}

func (c *gpgContext) Zero() error {
	c.passphrase = ""
	return nil
}
