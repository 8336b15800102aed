package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rescale/ventsim/internal/runner"
)

// fakeRunner records commands and imitates the on-disk effects the
// pipeline relies on.
type fakeRunner struct {
	mu       sync.Mutex
	commands []runner.Command
	failTool string
	// block holds blockTool (snappyHexMesh when empty) until closed
	blockTool string
	block     chan struct{}
	blocked   chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, dir string, cmd runner.Command) (runner.Result, error) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	block, fail, held := f.block, f.failTool, f.blockTool
	f.mu.Unlock()
	if held == "" {
		held = "snappyHexMesh"
	}

	tool := cmd.Tool()
	if block != nil && tool == held {
		f.blocked <- struct{}{}
		<-block
	}
	if tool == fail {
		err := &runner.CommandError{Command: cmd, ExitCode: 1}
		return runner.Result{Command: cmd, ExitCode: 1}, err
	}

	switch tool {
	case "decomposePar":
		os.MkdirAll(filepath.Join(dir, "processor0"), 0755)
	case "paraFoam":
		os.WriteFile(filepath.Join(dir, filepath.Base(dir)+".foam"), nil, 0644)
	}
	return runner.Result{Command: cmd}, nil
}

func (f *fakeRunner) tools() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.commands))
	for i, c := range f.commands {
		out[i] = c.Tool()
	}
	return out
}

func (f *fakeRunner) reset() {
	f.mu.Lock()
	f.commands = nil
	f.mu.Unlock()
}

func (f *fakeRunner) commandFor(t *testing.T, tool string) runner.Command {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.commands {
		if c.Tool() == tool {
			return c
		}
	}
	t.Fatalf("%s was not run", tool)
	return runner.Command{}
}
