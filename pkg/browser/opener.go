// Package browser opens the interactive session viewer in the user's browser.
package browser

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"

	pkgbrowser "github.com/pkg/browser"
)

var (
	// ErrUnavailable is returned when no browser can be launched.
	ErrUnavailable = errors.New("browser unavailable")

	// ErrInvalidURL is returned for empty or non-http URLs.
	ErrInvalidURL = errors.New("viewer url must be http or https")
)

// Opener opens a URL for the user. Implementations may fail; callers treat
// opening as best-effort.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, url string) error

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, url string) error {
	return f(ctx, url)
}

var redirectOnce sync.Once

// SystemOpener launches the platform browser.
type SystemOpener struct {
	// Output receives anything the launcher prints. Defaults to stderr:
	// stdout belongs to the MCP stdio transport.
	Output io.Writer
}

// NewSystemOpener returns a SystemOpener writing launcher output to stderr.
func NewSystemOpener() *SystemOpener {
	return &SystemOpener{Output: os.Stderr}
}

// Open validates url and hands it to the system browser.
func (o *SystemOpener) Open(ctx context.Context, url string) error {
	if err := validate(url); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	redirectOnce.Do(func() {
		out := o.Output
		if out == nil {
			out = os.Stderr
		}
		pkgbrowser.Stdout = out
		pkgbrowser.Stderr = out
	})

	if err := pkgbrowser.OpenURL(url); err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	return nil
}

// NoopOpener never opens anything. Used when HELPMETEST_NO_BROWSER is set.
type NoopOpener struct{}

// Open does nothing.
func (NoopOpener) Open(context.Context, string) error { return nil }

func validate(url string) error {
	u := strings.ToLower(strings.TrimSpace(url))
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return ErrInvalidURL
	}
	return nil
}
