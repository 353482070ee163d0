package server

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// validateURL rejects anything but a plain http(s) URL before it is handed
// to the platform opener.
func validateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s (only http/https allowed)", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a valid hostname")
	}
	if i := strings.IndexAny(rawURL, ";&|`$()<>\"'\\ \n\r"); i >= 0 {
		return fmt.Errorf("URL contains dangerous character: %q", rawURL[i])
	}

	return nil
}

// openerCommand returns the platform command that opens url in a browser.
func openerCommand(goos, url string) (string, []string, error) {
	switch goos {
	case "linux", "freebsd", "openbsd":
		return "xdg-open", []string{url}, nil
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}, nil
	case "darwin":
		return "open", []string{url}, nil
	default:
		return "", nil, fmt.Errorf("unsupported platform %s", goos)
	}
}

func (s *Server) openBrowser(url string) {
	time.Sleep(100 * time.Millisecond) // Give server time to start

	ctx := context.Background()
	if err := validateURL(url); err != nil {
		s.logger.Warn(ctx, err, "Refusing to open browser", "url", url)
		return
	}

	name, args, err := openerCommand(runtime.GOOS, url)
	if err == nil {
		err = exec.Command(name, args...).Start()
	}
	if err != nil {
		s.logger.Warn(ctx, err, "Failed to open browser", "url", url)
	}
}
