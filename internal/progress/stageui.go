package progress

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"
)

// StageUI draws one bar per pipeline stage using mpb. On a non-terminal it
// falls back to one line per step.
type StageUI struct {
	progress   *mpb.Progress
	out        io.Writer
	isTerminal bool
	mu         sync.Mutex
	bars       map[string]*StageBar
}

// NewStageUI creates a stage UI writing to stderr.
func NewStageUI() *StageUI {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))
	return newStageUI(os.Stderr, isTerminal)
}

func newStageUI(out io.Writer, isTerminal bool) *StageUI {
	var p *mpb.Progress
	if isTerminal {
		enableANSIOnWindows(os.Stderr)
		p = mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(200*time.Millisecond),
			mpb.WithWidth(80),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}
	return &StageUI{
		progress:   p,
		out:        out,
		isTerminal: isTerminal,
		bars:       make(map[string]*StageBar),
	}
}

// StageBar is the Reporter for a single stage.
type StageBar struct {
	ui      *StageUI
	stage   string
	bar     *mpb.Bar
	step    atomic.Value
	current int64
	started time.Time
}

// Bar returns the reporter for stage, creating it on first use.
func (u *StageUI) Bar(stage string) *StageBar {
	u.mu.Lock()
	defer u.mu.Unlock()
	if b, ok := u.bars[stage]; ok {
		return b
	}
	b := &StageBar{ui: u, stage: stage}
	b.step.Store("")
	u.bars[stage] = b
	return b
}

// Start creates the bar.
func (b *StageBar) Start(total int64, description string) {
	b.started = time.Now()
	b.step.Store(description)
	if !b.ui.isTerminal {
		fmt.Fprintf(b.ui.out, "%s: started\n", b.stage)
		return
	}
	b.bar = b.ui.progress.New(total,
		mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
		mpb.PrependDecorators(
			decor.Name(b.stage, decor.WCSyncSpaceR),
			decor.Percentage(decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.Any(func(decor.Statistics) string {
				return b.step.Load().(string)
			}, decor.WCSyncSpace),
			decor.Name("  "),
			decor.Elapsed(decor.ET_STYLE_GO),
		),
	)
}

// Update moves the bar to current.
func (b *StageBar) Update(current int64) {
	atomic.StoreInt64(&b.current, current)
	if b.bar != nil {
		b.bar.SetCurrent(current)
	}
}

// SetDescription shows the running step next to the bar.
func (b *StageBar) SetDescription(desc string) {
	b.step.Store(desc)
	if !b.ui.isTerminal {
		fmt.Fprintf(b.ui.out, "%s: %s (%d%%)\n", b.stage, desc, atomic.LoadInt64(&b.current))
	}
}

// Finish marks the bar complete.
func (b *StageBar) Finish() {
	if b.bar != nil {
		b.bar.SetTotal(-1, true)
	}
	msg := fmt.Sprintf("✓ %s finished in %s\n", b.stage, time.Since(b.started).Round(time.Second))
	b.ui.print(msg)
}

// Error aborts the bar, leaving it visible at its failure position.
func (b *StageBar) Error(err error) {
	if err == nil {
		return
	}
	if b.bar != nil {
		b.bar.Abort(false)
	}
	b.ui.print(fmt.Sprintf("✗ %s failed at %d%%: %v\n", b.stage, atomic.LoadInt64(&b.current), err))
}

func (u *StageUI) print(msg string) {
	if u.isTerminal {
		u.progress.Write([]byte(msg))
		return
	}
	fmt.Fprint(u.out, msg)
}

// Wait blocks until all bars complete or abort.
func (u *StageUI) Wait() {
	if u.progress != nil {
		u.progress.Wait()
	}
}

// Writer returns an io.Writer that prints above the bars, for log output.
func (u *StageUI) Writer() io.Writer {
	if u.isTerminal {
		return u.progress
	}
	return u.out
}

// IsTerminal reports whether bars are drawn.
func (u *StageUI) IsTerminal() bool {
	return u.isTerminal
}

// enableANSIOnWindows enables Virtual Terminal processing on Windows consoles.
func enableANSIOnWindows(f *os.File) {
	if runtime.GOOS == "windows" {
		enableWindowsANSI(f)
	}
}
