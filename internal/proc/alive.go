package proc

import (
	"slices"

	"github.com/shirou/gopsutil/v3/process"
)

// IsAlive reports whether a process with the given pid is running. A
// zombie waiting to be reaped has already exited and is not alive.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	status, err := p.Status()
	if err != nil {
		// Gone between the lookup and the status read.
		ok, _ := process.PidExists(int32(pid))
		return ok
	}
	return !slices.Contains(status, process.Zombie)
}

// descendants returns the pids of all processes below pid, found by
// walking parent links of every process on the system.
func descendants(pid int) []int {
	procs, err := process.Processes()
	if err != nil {
		return nil
	}
	children := make(map[int32][]int32)
	for _, p := range procs {
		ppid, err := p.Ppid()
		if err != nil {
			continue
		}
		children[ppid] = append(children[ppid], p.Pid)
	}

	var pids []int
	queue := []int32{int32(pid)}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for _, c := range children[next] {
			pids = append(pids, int(c))
			queue = append(queue, c)
		}
	}
	return pids
}

// surviving filters pids down to those still alive.
func surviving(pids []int) []int {
	var alive []int
	for _, pid := range pids {
		if IsAlive(pid) {
			alive = append(alive, pid)
		}
	}
	return alive
}
