package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
)

// ErrUnreachable is returned by EnsureReady when the engine does not answer.
var ErrUnreachable = errors.New("inference engine is not reachable")

// EnsureReady fails fast when e is down. For engines that host their own
// models, it pulls whichever of the named models are missing and writes
// progress to w. Hosted engines are only probed.
func EnsureReady(ctx context.Context, e Engine, chatModel, embedModel string, w io.Writer) error {
	if !e.IsRunning(ctx) {
		return fmt.Errorf("%w; check engine.provider and its settings", ErrUnreachable)
	}
	mm, ok := e.(ModelManager)
	if !ok {
		return nil
	}

	for _, model := range missingModels(ctx, mm, chatModel, embedModel) {
		fmt.Fprintf(w, "model %s: pulling\n", model)
		if err := mm.PullModel(ctx, model, progressPrinter(w)); err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}
	return nil
}

func missingModels(ctx context.Context, mm ModelManager, names ...string) []string {
	var missing []string
	for _, n := range names {
		if n == "" || slices.Contains(missing, n) || mm.HasModel(ctx, n) {
			continue
		}
		missing = append(missing, n)
	}
	return missing
}

// progressPrinter prints a line when the status text changes or a download
// crosses another 10%.
func progressPrinter(w io.Writer) func(PullProgress) {
	lastStatus, lastStep := "", -1
	return func(p PullProgress) {
		step := -1
		if p.Total > 0 {
			step = int(p.Completed * 10 / p.Total)
		}
		if p.Status == lastStatus && step == lastStep {
			return
		}
		lastStatus, lastStep = p.Status, step
		if step >= 0 {
			fmt.Fprintf(w, "  %s %d%%\n", p.Status, step*10)
			return
		}
		fmt.Fprintf(w, "  %s\n", p.Status)
	}
}
