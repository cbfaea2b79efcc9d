package cli

import (
	"fmt"
	"io"
	"sync"

	"pitchroom/internal/domain"
)

// formatter writes human-readable lines. It is safe for concurrent use
// because session events arrive from the controller's goroutines while the
// command loop prints prompts.
type formatter struct {
	mu sync.Mutex
	w  io.Writer
}

func newFormatter(w io.Writer) *formatter {
	return &formatter{w: w}
}

func (f *formatter) printf(format string, args ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fmt.Fprintf(f.w, format, args...)
}

func (f *formatter) Info(msg string) {
	f.printf("ℹ️  %s\n", msg)
}

func (f *formatter) Success(msg string) {
	f.printf("✅ %s\n", msg)
}

func (f *formatter) Warning(msg string) {
	f.printf("⚠️  %s\n", msg)
}

func (f *formatter) Comment(msg string) {
	f.printf("# %s\n", msg)
}

func (f *formatter) Check(name string, ok bool, detail string) {
	if ok {
		f.printf("  ✅ %s: %s\n", name, detail)
	} else {
		f.printf("  ❌ %s: %s\n", name, detail)
	}
}

func (f *formatter) Transcript(entry domain.TranscriptEntry, remaining string) {
	f.printf("[%s] %s: %s\n", remaining, entry.Speaker, entry.Text)
}

func (f *formatter) Raw(text string) {
	f.printf("%s", text)
}
