// Package sh is the command executor (C10): it runs or dry-prints shell
// commands, and composes two-stage pipelines with an optional pv progress
// stage interposed.
package sh

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"
)

// Runner executes shell commands, honoring a process-wide dry-run flag.
type Runner struct {
	DryRun bool
	Log    *zerolog.Logger
}

// New builds a Runner.
func New(dryRun bool, log *zerolog.Logger) *Runner {
	return &Runner{DryRun: dryRun, Log: log}
}

// Shell runs cmd through the host shell. Under DryRun, the command string is
// printed and nothing is executed. When capture is true, combined
// stdout+stderr is returned; otherwise they are inherited from the current
// process.
func (r *Runner) Shell(ctx context.Context, cmd string, capture bool) (string, error) {
	if r.DryRun {
		fmt.Println(cmd)
		return "", nil
	}
	if r.Log != nil {
		r.Log.Debug().Str("cmd", cmd).Msg("executing shell command")
	}

	c := exec.CommandContext(ctx, "bash", "-c", cmd)
	if capture {
		out, err := c.CombinedOutput()
		return string(out), err
	}

	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	return "", c.Run()
}

// Capture always runs cmd and returns its combined stdout+stderr,
// regardless of DryRun. Used for read-only probes (e.g. `zfs send -nvP`
// size estimation) that must run for real even during a dry-run backup.
func (r *Runner) Capture(ctx context.Context, cmd string) (string, error) {
	if r.Log != nil {
		r.Log.Debug().Str("cmd", cmd).Msg("executing probe command")
	}
	c := exec.CommandContext(ctx, "bash", "-c", cmd)
	out, err := c.CombinedOutput()
	return string(out), err
}

var (
	pvOnce    sync.Once
	pvPresent bool
)

// hasPV reports whether a pv binary is on PATH, computed once and cached.
func hasPV() bool {
	pvOnce.Do(func() {
		_, err := exec.LookPath("pv")
		pvPresent = err == nil
	})
	return pvPresent
}

// Pipe composes left and right into a single pipeline. When a pv binary is
// present on PATH and quiet is false, pv (sized by estimatedSize when > 0)
// is interposed between the two stages for a progress bar; otherwise the
// raw two-stage pipe is used. Under DryRun the composed command string is
// printed and nothing is executed.
func (r *Runner) Pipe(ctx context.Context, left, right string, estimatedSize int64, quiet bool) error {
	pipeline := left + " | " + right
	if !quiet && hasPV() {
		pv := "pv"
		if estimatedSize > 0 {
			pv = fmt.Sprintf("pv --size %d", estimatedSize)
		}
		pipeline = left + " | " + pv + " | " + right
	}

	if r.DryRun {
		fmt.Println(pipeline)
		return nil
	}
	if r.Log != nil {
		r.Log.Debug().Str("cmd", pipeline).Msg("executing pipeline")
	}

	c := exec.CommandContext(ctx, "bash", "-c", pipeline)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	return c.Run()
}
