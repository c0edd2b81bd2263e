package monitor

import (
	"fmt"

	"github.com/yanrk/resource-monitor/internal/hostapi"
)

// processTree is one registered root: whether descendants are folded in,
// and the set of currently-tracked pids belonging to it. The root pid is
// a member of its own descendant set for as long as its process lives.
type processTree struct {
	tree        bool
	descendants map[uint32]struct{}
}

func newProcessTree(root uint32, tree bool) *processTree {
	return &processTree{
		tree:        tree,
		descendants: map[uint32]struct{}{root: {}},
	}
}

// processHelper is the per-pid tracking record: the owning root, the open
// handle, and the CPU sampling baseline.
type processHelper struct {
	rootPID      uint32
	handle       hostapi.ProcessHandle
	lastWallTime uint64
	lastBusyTime uint64
}

func (e *engine) openHandle(pid uint32) (hostapi.ProcessHandle, error) {
	if pid == e.sys.CurrentPID() {
		return e.sys.CurrentProcess(), nil
	}
	return e.sys.OpenProcess(pid)
}

// appendLocked registers pid as a monitored root. Idempotent for existing
// roots; a pid already tracked as a descendant is promoted in place
// without opening a second handle.
func (e *engine) appendLocked(pid uint32, tree bool) error {
	if pid == 0 {
		return ErrInvalidPID
	}

	if _, ok := e.trees[pid]; ok {
		return nil
	}

	if helper, ok := e.helpers[pid]; ok {
		if old, ok := e.trees[helper.rootPID]; ok {
			delete(old.descendants, pid)
		}
		helper.rootPID = pid
		e.trees[pid] = newProcessTree(pid, tree)
		e.aggregates[pid] = &ProcessResource{}
		return nil
	}

	handle, err := e.openHandle(pid)
	if err != nil {
		return fmt.Errorf("open process %d: %w", pid, err)
	}
	e.trees[pid] = newProcessTree(pid, tree)
	e.helpers[pid] = &processHelper{rootPID: pid, handle: handle}
	e.aggregates[pid] = &ProcessResource{}
	return nil
}

// removeLocked unregisters a root, dropping its helpers and aggregate.
// Descendants that are themselves roots are untouched: the nested-root
// relation lives only in the transient leaf map.
func (e *engine) removeLocked(pid uint32) error {
	if pid == 0 {
		return ErrInvalidPID
	}
	tree, ok := e.trees[pid]
	if !ok {
		return ErrUnknownPID
	}

	for descendant := range tree.descendants {
		helper, ok := e.helpers[descendant]
		if !ok {
			continue
		}
		if descendant != e.sys.CurrentPID() {
			if err := helper.handle.Close(); err != nil {
				e.logger.Debug("close process handle", "pid", descendant, "err", err)
			}
		}
		delete(e.helpers, descendant)
	}
	delete(e.aggregates, pid)
	delete(e.trees, pid)
	return nil
}

// dropHelper removes a tracked pid whose process was detected dead,
// releasing its handle and its membership in the owning root.
func (e *engine) dropHelper(pid uint32) {
	helper, ok := e.helpers[pid]
	if !ok {
		return
	}
	if tree, ok := e.trees[helper.rootPID]; ok {
		delete(tree.descendants, pid)
	}
	if pid != e.sys.CurrentPID() {
		if err := helper.handle.Close(); err != nil {
			e.logger.Debug("close process handle", "pid", pid, "err", err)
		}
	}
	delete(e.helpers, pid)
}

// updateProcessTree rebuilds the pid→root topology from a fresh host
// process snapshot. The enumeration is not topologically sorted: a child
// is claimed only when its parent is already known, so grandchildren can
// take an extra sample to appear. Steady-state re-sampling closes the gap.
func (e *engine) updateProcessTree() {
	e.leaves = make(map[uint32]map[uint32]struct{})
	if len(e.trees) == 0 || len(e.helpers) == 0 {
		return
	}

	ancestors := make(map[uint32]uint32, len(e.trees))
	for pid, tree := range e.trees {
		if tree.tree {
			ancestors[pid] = pid
		}
	}

	processes, err := e.sys.Processes()
	if err != nil {
		e.logger.Warn("process enumeration failed", "err", err)
		return
	}

	for _, proc := range processes {
		root, ok := ancestors[proc.ParentPID]
		if !ok {
			continue
		}
		if _, isRoot := e.trees[proc.PID]; isRoot {
			// A root nested under another root: record the relation in
			// the leaf map instead of re-claiming the pid.
			leaf := e.leaves[proc.ParentPID]
			if leaf == nil {
				leaf = make(map[uint32]struct{})
				e.leaves[proc.ParentPID] = leaf
			}
			leaf[proc.PID] = struct{}{}
		} else {
			ancestors[proc.PID] = root
		}
	}

	for pid, root := range ancestors {
		tree, ok := e.trees[root]
		if !ok {
			continue
		}
		if helper, ok := e.helpers[pid]; ok {
			if helper.rootPID != root {
				if old, ok := e.trees[helper.rootPID]; ok {
					delete(old.descendants, pid)
				}
				tree.descendants[pid] = struct{}{}
				helper.rootPID = root
			}
		} else if handle, err := e.openHandle(pid); err == nil {
			tree.descendants[pid] = struct{}{}
			e.helpers[pid] = &processHelper{rootPID: root, handle: handle}
		}
	}

	// Transitive closure: a leaf set absorbs the leaf sets of any of its
	// members, so an outer root sees nested roots at any depth.
	for _, set := range e.leaves {
		queue := make([]uint32, 0, len(set))
		for pid := range set {
			queue = append(queue, pid)
		}
		for len(queue) > 0 {
			descendant := queue[0]
			queue = queue[1:]
			sub, ok := e.leaves[descendant]
			if !ok {
				continue
			}
			for pid := range sub {
				if _, dup := set[pid]; dup {
					continue
				}
				set[pid] = struct{}{}
				queue = append(queue, pid)
			}
		}
	}
}
