package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/yolodolo42/walletbridge/internal/ui"
)

const minPasswordLength = 8

var errPasswordMismatch = errors.New("passwords do not match")

// terminal prompts on stdin, pausing any running spinner while it does
type terminal struct {
	console ui.Console
	in      *bufio.Reader
}

func newTerminal() *terminal {
	return &terminal{in: bufio.NewReader(os.Stdin)}
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(password), nil
}

// readNewPassword asks twice and enforces the minimum length
func readNewPassword(prompt string) (string, error) {
	password, err := readPassword(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if len(password) < minPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		return "", fmt.Errorf("failed to read password confirmation: %w", err)
	}
	if password != confirm {
		return "", errPasswordMismatch
	}
	return password, nil
}

// password unlocks keystore keys. creating is set when the key is new.
func (t *terminal) password(ctx context.Context, creating bool) (string, error) {
	var password string
	err := t.console.Suspend(func() error {
		var err error
		if creating {
			password, err = readNewPassword("Choose a password for the new account: ")
		} else {
			password, err = readPassword("Account password: ")
		}
		return err
	})
	return password, err
}

// approve confirms a request to a keystore-served signer
func (t *terminal) approve(ctx context.Context, method string, params []any) bool {
	approved := false
	_ = t.console.Suspend(func() error {
		approved = t.confirm(fmt.Sprintf("Signer request %s. Approve?", method))
		return nil
	})
	return approved
}

func (t *terminal) confirm(question string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N] ", question)
	line, err := t.in.ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
