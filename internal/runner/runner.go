// Package runner executes the external OpenFOAM and MPI tools of a case.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rescale/ventsim/internal/constants"
	"github.com/rescale/ventsim/internal/logging"
)

// Command is one external tool invocation.
type Command struct {
	Name string
	Args []string
}

// String renders the command line for logs and errors.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Tool returns the name the command's output log is stored under. For MPI
// launches it is the launched application rather than the launcher.
func (c Command) Tool() string {
	name := filepath.Base(c.Name)
	if isLauncher(name) {
		for i := 0; i < len(c.Args); i++ {
			a := c.Args[i]
			if a == "-np" || a == "-n" {
				i++
				continue
			}
			if strings.HasPrefix(a, "-") {
				continue
			}
			return filepath.Base(a)
		}
	}
	return name
}

func isLauncher(name string) bool {
	switch name {
	case "mpirun", "mpiexec", "srun":
		return true
	}
	return false
}

// Result describes a finished command.
type Result struct {
	Command  Command
	ExitCode int
	Duration time.Duration
	LogPath  string
}

// CommandError is returned when a tool exits unsuccessfully or cannot start.
type CommandError struct {
	Command  Command
	ExitCode int
	LogPath  string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Command, e.ExitCode)
	if e.ExitCode < 0 && e.Err != nil {
		msg = fmt.Sprintf("%s failed to run: %v", e.Command, e.Err)
	}
	if e.LogPath != "" {
		msg += " (see " + e.LogPath + ")"
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// Runner runs a single command in dir and blocks until it exits.
type Runner interface {
	Run(ctx context.Context, dir string, cmd Command) (Result, error)
}

// ExecRunner runs commands with os/exec. Combined output of each tool is
// written to log.<tool> in the working directory and echoed to the logger at
// debug level.
type ExecRunner struct {
	// Env is appended to the process environment.
	Env    []string
	Logger *logging.Logger
}

// NewExecRunner creates an ExecRunner that logs through logger.
func NewExecRunner(logger *logging.Logger) *ExecRunner {
	return &ExecRunner{Logger: logging.OrNop(logger).Component("runner")}
}

// Run executes cmd in dir.
func (r *ExecRunner) Run(ctx context.Context, dir string, cmd Command) (Result, error) {
	logger := logging.OrNop(r.Logger)
	res := Result{Command: cmd, ExitCode: -1}
	start := time.Now()

	logPath := filepath.Join(dir, constants.ToolLogPrefix+cmd.Tool())
	logFile, err := os.Create(logPath)
	if err != nil {
		return res, &CommandError{Command: cmd, ExitCode: -1, Err: fmt.Errorf("failed to create tool log: %w", err)}
	}
	defer logFile.Close()
	res.LogPath = logPath

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = dir
	if len(r.Env) > 0 {
		c.Env = append(os.Environ(), r.Env...)
	}

	pr, pw := io.Pipe()
	c.Stdout = pw
	c.Stderr = pw

	logger.Info().Str("command", cmd.String()).Str("dir", dir).Msg("Starting tool")

	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			fmt.Fprintln(logFile, line)
			logger.Debug().Str("tool", cmd.Tool()).Msg(line)
		}
		// drain anything past an over-long line so the tool never blocks
		_, _ = io.Copy(logFile, pr)
	}()

	runErr := c.Run()
	pw.Close()
	<-forwarded
	res.Duration = time.Since(start)

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		logger.Error().
			Str("command", cmd.String()).
			Int("exit_code", res.ExitCode).
			Dur("duration", res.Duration).
			Msg("Tool failed")
		return res, &CommandError{Command: cmd, ExitCode: res.ExitCode, LogPath: logPath, Err: runErr}
	}

	res.ExitCode = 0
	logger.Info().
		Str("command", cmd.String()).
		Dur("duration", res.Duration).
		Msg("Tool finished")
	return res, nil
}

// RunAll runs cmds in order and stops at the first failure. The results of
// the commands that ran are returned, the failing one last.
func RunAll(ctx context.Context, r Runner, dir string, cmds ...Command) ([]Result, error) {
	results := make([]Result, 0, len(cmds))
	for _, cmd := range cmds {
		res, err := r.Run(ctx, dir, cmd)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}
