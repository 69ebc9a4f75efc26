package oauth

import (
	"fmt"
	"os/exec"
	"runtime"
)

// BrowserOpener opens a URL in the user's browser.
type BrowserOpener interface {
	Open(url string) error
}

// BrowserFunc adapts a function to BrowserOpener.
type BrowserFunc func(url string) error

// Open calls f(url).
func (f BrowserFunc) Open(url string) error { return f(url) }

// SystemBrowser opens URLs with the platform's default handler.
var SystemBrowser BrowserOpener = BrowserFunc(OpenBrowser)

// OpenBrowser launches the default browser without waiting for it to exit.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux", "freebsd", "openbsd", "netbsd":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
