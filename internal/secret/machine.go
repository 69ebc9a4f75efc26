package secret

import (
	"fmt"
	"os"
	"os/user"
	"strings"
)

// appContext namespaces the passphrase so other tools deriving a key from
// the same machine facts do not share it.
const appContext = "mailauth-token-store-v1"

// MachinePassphrase builds the key-derivation passphrase from the host name,
// the OS user and their home directory. It changes if any of those change,
// after which stored secrets no longer decrypt and accounts must log in again.
func MachinePassphrase() (string, error) {
	host, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to read hostname: %w", err)
	}

	username := ""
	if u, err := user.Current(); err == nil {
		username = u.Username
	} else {
		username = firstNonEmpty(os.Getenv("USER"), os.Getenv("USERNAME"))
	}

	home, _ := os.UserHomeDir()

	return strings.Join([]string{appContext, host, username, home}, "|"), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
