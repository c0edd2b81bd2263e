package monitor

// accumulateCPU folds per-process CPU deltas into each owning root's
// aggregate. The first observation of a helper only primes its baseline;
// non-monotonic readings re-prime without emitting a sample. Helpers whose
// process has exited are dropped.
func (e *engine) accumulateCPU() {
	for _, aggregate := range e.aggregates {
		aggregate.CPUPercent = 0
	}
	if e.system.CPUCount == 0 {
		return
	}

	var dead []uint32
	for pid, helper := range e.helpers {
		if !helper.handle.Alive() {
			dead = append(dead, pid)
			continue
		}

		wallTime := e.sys.NowAsFileTime()
		busyTime, err := helper.handle.BusyTime()
		if err != nil {
			e.logger.Debug("read process times", "pid", pid, "err", err)
			continue
		}

		if helper.lastWallTime == 0 || helper.lastWallTime >= wallTime || helper.lastBusyTime > busyTime {
			helper.lastWallTime = wallTime
			helper.lastBusyTime = busyTime
			continue
		}

		wallDelta := wallTime - helper.lastWallTime
		busyDelta := busyTime - helper.lastBusyTime
		if aggregate, ok := e.aggregates[helper.rootPID]; ok {
			aggregate.CPUPercent += 100 * float64(busyDelta) / float64(e.system.CPUCount) / float64(wallDelta)
		}

		helper.lastWallTime = wallTime
		helper.lastBusyTime = busyTime
	}

	for _, pid := range dead {
		e.dropHelper(pid)
	}
}

// accumulateRAM folds per-process working-set sizes into each owning
// root's aggregate. Dead processes contribute nothing and are dropped.
func (e *engine) accumulateRAM() {
	for _, aggregate := range e.aggregates {
		aggregate.RAMBytes = 0
	}

	var dead []uint32
	for pid, helper := range e.helpers {
		if !helper.handle.Alive() {
			dead = append(dead, pid)
			continue
		}
		workingSet, err := helper.handle.WorkingSetBytes()
		if err != nil {
			e.logger.Debug("read process working set", "pid", pid, "err", err)
			continue
		}
		if aggregate, ok := e.aggregates[helper.rootPID]; ok {
			aggregate.RAMBytes += workingSet
		}
	}

	for _, pid := range dead {
		e.dropHelper(pid)
	}
}

// refreshSystemMemory updates host RAM totals.
func (e *engine) refreshSystemMemory() bool {
	total, avail, err := e.sys.MemoryStatus()
	if err != nil {
		e.system.RAMTotal = 0
		e.system.RAMUsed = 0
		return false
	}
	e.system.RAMTotal = total
	e.system.RAMUsed = total - avail
	return true
}

// refreshSystemDisk updates host disk totals over fixed drives.
func (e *engine) refreshSystemDisk() bool {
	total, free, err := e.sys.DiskStatus()
	if err != nil {
		e.system.DiskTotal = 0
		e.system.DiskUsed = 0
		return false
	}
	e.system.DiskTotal = total
	e.system.DiskUsed = total - free
	return true
}
