package cli

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/schollz/progressbar/v3"
)

// NewProgressBar creates a progress bar writing to w.
func NewProgressBar(w io.Writer, total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]"+description+"[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(w); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
}

// Tally counts finished background jobs and advances a progress bar. Record
// is safe to call from multiple goroutines.
type Tally struct {
	bar         *progressbar.ProgressBar
	categorized int
	forced      int
	failed      int
	mu          sync.Mutex
}

// NewTally creates a Tally. bar may be nil.
func NewTally(bar *progressbar.ProgressBar) *Tally {
	return &Tally{bar: bar}
}

// Record counts one finished job by its outcome label.
func (t *Tally) Record(label string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch label {
	case "categorized":
		t.categorized++
	case "forced":
		t.forced++
	default:
		t.failed++
	}

	if t.bar != nil {
		if err := t.bar.Add(1); err != nil {
			slog.Warn("Failed to update progress bar", "error", err)
		}
	}
}

// Summary renders the counts.
func (t *Tally) Summary() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	summary := FormatSuccess(fmt.Sprintf("%d categorized", t.categorized))
	if t.forced > 0 {
		summary += "  " + FormatWarning(fmt.Sprintf("%d completed without a category", t.forced))
	}
	if t.failed > 0 {
		summary += "  " + FormatError(fmt.Sprintf("%d still pending", t.failed))
	}
	return summary
}

// Counts returns the categorized, forced and failed totals.
func (t *Tally) Counts() (categorized, forced, failed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.categorized, t.forced, t.failed
}
