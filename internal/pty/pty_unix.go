//go:build !windows

package pty

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// FallbackShell runs when neither the configured shell nor $SHELL is set.
const FallbackShell = "/bin/bash"

// unixPTY implements PTY on top of a creack/pty master.
type unixPTY struct {
	master *os.File
}

// Read reads process output from the PTY master.
func (p *unixPTY) Read(b []byte) (int, error) {
	return p.master.Read(b)
}

// Write writes process input to the PTY master.
func (p *unixPTY) Write(b []byte) (int, error) {
	return p.master.Write(b)
}

// Close closes the PTY master file descriptor.
func (p *unixPTY) Close() error {
	return p.master.Close()
}

// Fd returns the file descriptor of the PTY master.
func (p *unixPTY) Fd() uintptr {
	return p.master.Fd()
}

// Resize sets the window size and lets the kernel deliver SIGWINCH.
func (p *unixPTY) Resize(cols, rows uint16) error {
	return pty.Setsize(p.master, &pty.Winsize{Cols: cols, Rows: rows})
}

// Start launches opts.Command on a new PTY. The child becomes the leader
// of a new session and process group with the PTY as controlling terminal.
func Start(opts StartOptions) (*Process, error) {
	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Env = opts.Env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Dir = opts.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
	}

	var size *pty.Winsize
	if opts.Cols > 0 && opts.Rows > 0 {
		size = &pty.Winsize{Cols: opts.Cols, Rows: opts.Rows}
	}

	master, err := pty.StartWithAttrs(cmd, size, cmd.SysProcAttr)
	if err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	return &Process{
		PTY:  &unixPTY{master: master},
		proc: cmd.Process,
		pid:  cmd.Process.Pid,
		tree: &sessionTree{leader: cmd.Process},
	}, nil
}

// sessionTree is every process in the session led by the shell. Shells
// with job control put background jobs in their own process groups, so
// signalling the leader's group alone misses them.
type sessionTree struct {
	leader *os.Process
}

// hangup sends SIGHUP to the whole session.
func (s *sessionTree) hangup() error {
	if err := s.signal(unix.SIGHUP); err != nil {
		return err
	}
	// stopped jobs only act on the hangup once continued
	return s.signal(unix.SIGCONT)
}

// kill sends SIGKILL to the whole session.
func (s *sessionTree) kill() error {
	err := s.signal(unix.SIGKILL)
	if err != nil {
		// The group may already be gone while the leader lingers.
		if kerr := s.leader.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			return kerr
		}
	}
	return nil
}

// release is a no-op; the session holds no handles.
func (s *sessionTree) release() error {
	return nil
}

// signal delivers sig to the leader's process group and to every other
// process that shares its session.
func (s *sessionTree) signal(sig unix.Signal) error {
	sid := s.leader.Pid
	err := unix.Kill(-sid, sig)
	if errors.Is(err, unix.ESRCH) {
		err = nil
	}
	for _, pid := range sessionMembers(sid) {
		if pid == sid || pid == os.Getpid() {
			continue
		}
		// members can exit between the scan and the signal
		_ = unix.Kill(pid, sig)
	}
	return err
}
