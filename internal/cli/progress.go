package cli

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

type stopFunc func()

func startSpinner(enabled bool, description string) stopFunc {
	if !enabled {
		return func() {}
	}

	bar := progressbar.NewOptions(
		-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionThrottle(80*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(120 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-stopCh:
				_ = bar.Finish()
				return
			case <-ticker.C:
				_ = bar.Add(1)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stopCh)
			<-doneCh
		})
	}
}

// fileProgress counts processed files. A single file gets a spinner
// instead, since a 0/1 bar says nothing.
type fileProgress struct {
	bar  *progressbar.ProgressBar
	stop stopFunc
}

func startFileProgress(enabled bool, description string, total int, w io.Writer) *fileProgress {
	if !enabled || total <= 0 {
		return &fileProgress{stop: func() {}}
	}
	if total == 1 {
		return &fileProgress{stop: startSpinner(true, description)}
	}
	if w == nil {
		w = os.Stderr
	}

	bar := progressbar.NewOptions(
		total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(20),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)

	var once sync.Once
	return &fileProgress{
		bar: bar,
		stop: func() {
			once.Do(func() { _ = bar.Finish() })
		},
	}
}

func (p *fileProgress) Advance() {
	if p.bar != nil {
		_ = p.bar.Add(1)
	}
}

func (p *fileProgress) Stop() {
	p.stop()
}
