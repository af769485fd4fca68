package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/teslashibe/camcal/pkg/tui"
)

// reporter receives progress from a calibration or an event stream.
type reporter interface {
	Update(percent int, phase string)
	Finish(message string, err error)
}

// plainReporter writes one line per change, for pipes and CI logs.
type plainReporter struct {
	w io.Writer

	mu      sync.Mutex
	percent int
	phase   string
	started bool
}

func (p *plainReporter) Update(percent int, phase string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started && percent == p.percent && phase == p.phase {
		return
	}
	p.started, p.percent, p.phase = true, percent, phase
	fmt.Fprintf(p.w, "[%3d%%] %s\n", percent, phase)
}

func (p *plainReporter) Finish(message string, err error) {
	if err != nil && message == "" {
		message = err.Error()
	}
	if message != "" {
		fmt.Fprintln(p.w, message)
	}
}

// display runs work while rendering its progress, either as line output
// or as a bubbletea view on stderr. work must call Finish on the reporter
// it is given. Quitting the view calls cancel.
func display(title string, plain bool, cancel context.CancelFunc, work func(r reporter)) error {
	if plain {
		work(&plainReporter{w: os.Stderr})
		return nil
	}

	relay := tui.NewRelay()
	done := make(chan struct{})
	go func() {
		defer close(done)
		work(relay)
	}()

	_, err := tea.NewProgram(tui.New(title, relay, cancel), tea.WithOutput(os.Stderr)).Run()
	cancel()
	<-done
	if err != nil {
		return fmt.Errorf("progress view: %w", err)
	}
	return nil
}
