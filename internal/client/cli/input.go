package cli

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// PasswordEnvVar, when set, is used instead of prompting.
const PasswordEnvVar = "DEGLET_PASSWORD"

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// GetPassword prints a password prompt to w and reads a password from the
// terminal without echo.
//
// The returned byte slice should be wiped by the caller when no longer needed.
func GetPassword(w io.Writer) ([]byte, error) {
	if pw := os.Getenv(PasswordEnvVar); pw != "" {
		return []byte(pw), nil
	}
	if _, err := fmt.Fprint(w, "Enter password: "); err != nil {
		return nil, err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	return pw, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
