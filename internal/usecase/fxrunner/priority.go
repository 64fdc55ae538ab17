package fxrunner

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// Priority labels accepted by fxrunner.set_priority.
var validPriorities = []string{"LOW", "BELOW_NORMAL", "NORMAL", "ABOVE_NORMAL", "HIGH", "HIGHEST"}

// PrioritySetter adjusts the OS priority of a process tree. It is best effort:
// failures are logged, never returned.
type PrioritySetter interface {
	Apply(ctx context.Context, rootPID int, label string)
}

// TreePrioritySetter applies a priority to a process and all of its descendants.
type TreePrioritySetter struct {
	logger *slog.Logger
	tree   func(ctx context.Context, pid int) ([]int, error)
	set    func(pid int, label string) error
}

// NewPrioritySetter returns a setter that walks the live process table.
func NewPrioritySetter(logger *slog.Logger) *TreePrioritySetter {
	return &TreePrioritySetter{logger: logger, tree: processTree, set: setOSPriority}
}

// Apply sets label on rootPID and every descendant found at call time.
func (s *TreePrioritySetter) Apply(ctx context.Context, rootPID int, label string) {
	label = strings.ToUpper(strings.TrimSpace(label))
	if label == "" || label == "NORMAL" {
		return
	}
	if !slices.Contains(validPriorities, label) {
		s.logger.Warn("couldn't set the processes priority: invalid priority value",
			"priority", label, "valid", strings.Join(validPriorities, ","))
		return
	}
	if rootPID <= 0 {
		s.logger.Warn("couldn't set the processes priority: unknown PID")
		return
	}

	pids, err := s.tree(ctx, rootPID)
	if err != nil {
		s.logger.Warn("couldn't list the server process tree", "pid", rootPID, "error", err)
		return
	}

	applied := make([]int, 0, len(pids))
	for _, pid := range pids {
		if err := s.set(pid, label); err != nil {
			s.logger.Debug("couldn't set process priority", "pid", pid, "priority", label, "error", err)
			continue
		}
		applied = append(applied, pid)
	}
	s.logger.Info("process priority set", "priority", label, "pids", applied)
}

// processTree returns root followed by all of its descendants.
func processTree(ctx context.Context, root int) ([]int, error) {
	p, err := process.NewProcessWithContext(ctx, int32(root))
	if err != nil {
		return nil, err
	}
	pids := []int{root}
	var walk func(*process.Process)
	walk = func(parent *process.Process) {
		children, err := parent.ChildrenWithContext(ctx)
		if err != nil {
			return
		}
		for _, c := range children {
			pids = append(pids, int(c.Pid))
			walk(c)
		}
	}
	walk(p)
	return pids, nil
}
