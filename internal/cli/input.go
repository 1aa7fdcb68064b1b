package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/medkeeper/internal/common"
	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// GetPassword prints prompt to w and reads a secret from the terminal
// without echo. The caller should wipe the returned slice.
func GetPassword(w io.Writer, prompt string) ([]byte, error) {
	if _, err := fmt.Fprint(w, prompt); err != nil {
		return nil, err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	return pw, nil
}

// secretFrom returns the value of env when set, otherwise prompts for it.
func secretFrom(env, prompt string, w io.Writer) (string, error) {
	if v := os.Getenv(env); v != "" {
		return v, nil
	}
	pw, err := GetPassword(w, prompt)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	s := strings.TrimSpace(string(pw))
	common.WipeByteArray(pw)
	if s == "" {
		return "", fmt.Errorf("%s: empty secret", strings.TrimSpace(prompt))
	}
	return s, nil
}
