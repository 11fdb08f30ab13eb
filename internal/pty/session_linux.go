package pty

import (
	"github.com/prometheus/procfs"
)

// sessionMembers lists the processes whose session ID is sid.
func sessionMembers(sid int) []int {
	if sid <= 1 {
		return nil
	}
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil
	}
	procs, err := fs.AllProcs()
	if err != nil {
		return nil
	}

	var members []int
	for _, p := range procs {
		stat, err := p.Stat()
		if err != nil {
			continue
		}
		if stat.Session == sid {
			members = append(members, p.PID)
		}
	}
	return members
}
