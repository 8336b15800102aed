// Package progress reports stage and transfer progress to terminals and to
// the event bus.
package progress

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/rescale/ventsim/internal/events"
)

// Reporter receives progress for one unit of work: a pipeline stage (total
// 100, current in percent) or a byte transfer.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
	Error(err error)
	SetDescription(desc string)
}

// CLIProgress renders a single progress bar on stderr.
type CLIProgress struct {
	bar   *progressbar.ProgressBar
	w     io.Writer
	bytes bool
}

// NewCLIProgress creates a stage progress bar.
func NewCLIProgress() *CLIProgress {
	return &CLIProgress{w: os.Stderr}
}

// NewCLIByteProgress creates a progress bar that shows byte counts, for uploads.
func NewCLIByteProgress() *CLIProgress {
	return &CLIProgress{w: os.Stderr, bytes: true}
}

// Start initializes the progress bar with total and description.
func (p *CLIProgress) Start(total int64, description string) {
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionShowBytes(p.bytes),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(p.w, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Update moves the bar to current.
func (p *CLIProgress) Update(current int64) {
	if p.bar != nil {
		_ = p.bar.Set64(current)
	}
}

// Finish completes the progress bar.
func (p *CLIProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Error displays an error message below the bar.
func (p *CLIProgress) Error(err error) {
	if err != nil {
		fmt.Fprintf(p.w, "\nError: %v\n", err)
	}
}

// SetDescription updates the bar description, typically the current step.
func (p *CLIProgress) SetDescription(desc string) {
	if p.bar != nil {
		p.bar.Describe(desc)
	}
}

// EventProgress publishes stage progress on the event bus.
type EventProgress struct {
	eventBus *events.EventBus
	stage    string
	runID    string
	step     string
	total    int64
	current  int64
}

// NewEventProgress creates a reporter for one run of stage.
func NewEventProgress(eventBus *events.EventBus, stage, runID string) *EventProgress {
	return &EventProgress{
		eventBus: eventBus,
		stage:    stage,
		runID:    runID,
	}
}

func (p *EventProgress) publish() {
	percent := 0
	if p.total > 0 {
		percent = int(p.current * 100 / p.total)
	}
	p.eventBus.PublishProgress(p.stage, p.runID, percent, p.step)
}

// Start resets progress to zero.
func (p *EventProgress) Start(total int64, description string) {
	p.total = total
	p.current = 0
	p.step = description
	p.publish()
}

// Update publishes the new position.
func (p *EventProgress) Update(current int64) {
	p.current = current
	p.publish()
}

// Finish publishes completion.
func (p *EventProgress) Finish() {
	p.current = p.total
	p.publish()
}

// Error publishes the failure as an error log event.
func (p *EventProgress) Error(err error) {
	if err != nil {
		p.eventBus.PublishLog(events.ErrorLevel, err.Error(), p.stage, p.runID, err)
	}
}

// SetDescription records the current step name.
func (p *EventProgress) SetDescription(desc string) {
	p.step = desc
	p.publish()
}

// NoOpProgress is a reporter that does nothing.
type NoOpProgress struct{}

// NewNoOpProgress creates a new no-op progress reporter.
func NewNoOpProgress() *NoOpProgress {
	return &NoOpProgress{}
}

// Start does nothing.
func (p *NoOpProgress) Start(total int64, description string) {}

// Update does nothing.
func (p *NoOpProgress) Update(current int64) {}

// Finish does nothing.
func (p *NoOpProgress) Finish() {}

// Error does nothing.
func (p *NoOpProgress) Error(err error) {}

// SetDescription does nothing.
func (p *NoOpProgress) SetDescription(desc string) {}

// Multi fans every call out to several reporters.
type Multi []Reporter

func (m Multi) Start(total int64, description string) {
	for _, r := range m {
		r.Start(total, description)
	}
}

func (m Multi) Update(current int64) {
	for _, r := range m {
		r.Update(current)
	}
}

func (m Multi) Finish() {
	for _, r := range m {
		r.Finish()
	}
}

func (m Multi) Error(err error) {
	for _, r := range m {
		r.Error(err)
	}
}

func (m Multi) SetDescription(desc string) {
	for _, r := range m {
		r.SetDescription(desc)
	}
}

// ProgressReader wraps an io.Reader to report progress.
type ProgressReader struct {
	reader   io.Reader
	reporter Reporter
	total    int64
	current  int64
}

// NewProgressReader creates a new progress-reporting reader.
func NewProgressReader(reader io.Reader, total int64, reporter Reporter) *ProgressReader {
	return &ProgressReader{
		reader:   reader,
		reporter: reporter,
		total:    total,
	}
}

// Read implements io.Reader interface with progress reporting.
func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.current += int64(n)
	pr.reporter.Update(pr.current)
	return n, err
}
