package terraform

import (
	"slices"
	"strings"

	"github.com/cuemby/castlehub/pkg/types"
)

// MarkerStrategy decides the progress of one change from apply log text.
// Implementations are tied to the log format of a terraform version.
type MarkerStrategy interface {
	Progress(change types.PlanChange, applyLog string) types.Progress
}

// MarkerStrategyFunc adapts a function to MarkerStrategy
type MarkerStrategyFunc func(change types.PlanChange, applyLog string) types.Progress

// Progress calls f
func (f MarkerStrategyFunc) Progress(change types.PlanChange, applyLog string) types.Progress {
	return f(change, applyLog)
}

// TerraformMarkers matches the "<address>: Creating..." family of lines
// terraform prints while applying.
type TerraformMarkers struct{}

type markers struct {
	creating, created     int
	destroying, destroyed int
	modifying, modified   int
}

// findMarkers returns the offset of each marker line of address, or -1.
// Markers only match at line start, so the address of a root resource
// never matches inside the address of a module resource ending with it.
func findMarkers(address, applyLog string) markers {
	text := "\n" + applyLog
	find := func(suffix string) int {
		return strings.Index(text, "\n"+address+": "+suffix)
	}
	return markers{
		creating:   find("Creating..."),
		created:    find("Creation complete"),
		destroying: find("Destroying..."),
		destroyed:  find("Destruction complete"),
		modifying:  find("Modifying..."),
		modified:   find("Modifications complete"),
	}
}

// Progress implements MarkerStrategy
func (TerraformMarkers) Progress(change types.PlanChange, applyLog string) types.Progress {
	m := findMarkers(change.Address, applyLog)

	switch {
	case change.Is(types.ActionNoOp), change.Is(types.ActionRead):
		return types.ProgressDone
	case change.Is(types.ActionCreate):
		return stage(m.created, m.creating)
	case change.Is(types.ActionUpdate):
		return stage(m.modified, m.modifying)
	case change.Is(types.ActionDelete):
		return stage(m.destroyed, m.destroying)
	case change.Is(types.ActionDelete, types.ActionCreate):
		if m.created != -1 && m.destroyed != -1 && m.destroyed < m.created {
			return types.ProgressDone
		}
		if m.destroying != -1 {
			return types.ProgressRunning
		}
	case change.Is(types.ActionCreate, types.ActionDelete):
		if m.created != -1 && m.destroyed != -1 && m.destroyed > m.created {
			return types.ProgressDone
		}
		if m.creating != -1 {
			return types.ProgressRunning
		}
	}
	return types.ProgressQueued
}

func stage(complete, started int) types.Progress {
	if complete != -1 {
		return types.ProgressDone
	}
	if started != -1 {
		return types.ProgressRunning
	}
	return types.ProgressQueued
}

// LogProgress tags every change of the initial plan with the progress the
// strategy reads from the apply log. A nil strategy uses TerraformMarkers.
func LogProgress(initial []types.PlanChange, applyLog string, strategy MarkerStrategy) []types.ChangeProgress {
	if strategy == nil {
		strategy = TerraformMarkers{}
	}

	out := make([]types.ChangeProgress, 0, len(initial))
	for _, change := range initial {
		progress := strategy.Progress(change, applyLog)
		if progress == "" {
			progress = types.ProgressQueued
		}
		out = append(out, types.ChangeProgress{
			PlanChange: clone(change),
			Progress:   progress,
			Done:       progress == types.ProgressDone,
		})
	}
	return out
}

// DiffProgress compares the initial plan with a plan recomputed after the
// apply started. A change is done when the current plan has it as no-op,
// or no longer lists it (terraform drops satisfied reads from the plan).
// Output follows the order of initial.
func DiffProgress(initial, current []types.PlanChange) []types.ChangeProgress {
	byAddress := make(map[string]types.PlanChange, len(current))
	for _, change := range current {
		byAddress[change.Address] = change
	}

	out := make([]types.ChangeProgress, 0, len(initial))
	for _, change := range initial {
		done := true
		if now, ok := byAddress[change.Address]; ok {
			done = now.Is(types.ActionNoOp)
		}
		progress := types.ProgressQueued
		if done {
			progress = types.ProgressDone
		}
		out = append(out, types.ChangeProgress{
			PlanChange: clone(change),
			Progress:   progress,
			Done:       done,
		})
	}
	return out
}

func clone(change types.PlanChange) types.PlanChange {
	change.Actions = slices.Clone(change.Actions)
	return change
}
