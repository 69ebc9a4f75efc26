package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

const (
	// ConfigDirEnv overrides the configuration directory.
	ConfigDirEnv = "MAILAUTH_CONFIG_DIR"

	accountsDirName = "accounts"
	clientsFileName = "oauth-clients.json"

	dirPerm  = 0o700
	filePerm = 0o600
)

// ResolveConfigDir picks the configuration directory: the explicit value if
// set, then $MAILAUTH_CONFIG_DIR, then <user config dir>/mailauth.
func ResolveConfigDir(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config directory: %w", err)
	}
	return filepath.Join(base, "mailauth"), nil
}

// SafeFileName maps an email to a file name that is safe on every platform.
// It lowercases and collapses each run of non-alphanumeric characters to '_'.
func SafeFileName(email string) string {
	var b strings.Builder
	lastSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(email)) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			lastSep = false
			continue
		}
		if !lastSep {
			b.WriteByte('_')
			lastSep = true
		}
	}
	return b.String() + ".json"
}

// writeFileAtomic writes data to a temp file in the same directory and
// renames it over path, so readers never observe a partial file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(filePerm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace file: %w", err)
	}
	return nil
}
