package terminal

import (
	"bytes"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestNewSpinnerWithOutput(t *testing.T) {
	var buf bytes.Buffer
	spinner := NewSpinnerWithOutput(&buf, "Running test")

	if spinner.message != "Running test" {
		t.Errorf("message = %q, want 'Running test'", spinner.message)
	}
	if len(spinner.frames) == 0 {
		t.Error("frames should be set")
	}
	if spinner.Elapsed() != 0 {
		t.Error("Elapsed should be zero before Start")
	}
}

func TestSpinner_SetMessage(t *testing.T) {
	spinner := NewSpinnerWithOutput(&bytes.Buffer{}, "Running test")

	spinner.SetMessage("Click  Login")
	if spinner.message != "Click  Login" {
		t.Errorf("message = %q, want 'Click  Login'", spinner.message)
	}
}

func TestSpinner_AnimatesAndStops(t *testing.T) {
	buf := &lockedBuffer{}
	spinner := NewSpinnerWithOutput(buf, "Running test")
	spinner.Start()
	time.Sleep(200 * time.Millisecond)
	spinner.StopWithSuccess("Test passed")
	spinner.Stop()

	got := buf.String()
	if !strings.Contains(got, "Running test") {
		t.Errorf("spinner never drew its message: %q", got)
	}
	if !strings.Contains(got, "✓") || !strings.Contains(got, "Test passed") {
		t.Errorf("missing success line: %q", got)
	}
}

func TestSpinner_StopWithError(t *testing.T) {
	buf := &lockedBuffer{}
	spinner := NewSpinnerWithOutput(buf, "Running test")
	spinner.Start()
	spinner.StopWithError("Test failed")

	got := buf.String()
	if !strings.Contains(got, "✗") || !strings.Contains(got, "Test failed") {
		t.Errorf("missing error line: %q", got)
	}
}

func TestIsTerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if IsTerminal(f) {
		t.Error("a regular file is not a terminal")
	}

	null, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer null.Close()
	if IsTerminal(null) {
		t.Error("/dev/null is a character device but not a terminal")
	}

	if IsTerminal(nil) {
		t.Error("nil file is not a terminal")
	}
}
