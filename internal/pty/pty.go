// Package pty runs interactive shell processes behind pseudo-terminals.
package pty

import (
	"io"
	"os"
)

// PTY is the master side of a pseudo-terminal.
type PTY interface {
	io.Reader
	io.Writer
	io.Closer

	// Resize changes the window size seen by the process.
	Resize(cols, rows uint16) error

	// Fd returns the file descriptor of the PTY master.
	Fd() uintptr
}

// StartOptions contains options for starting a PTY process.
type StartOptions struct {
	// Command is the binary to execute.
	Command string

	// Args are passed to the command.
	Args []string

	// Env is the complete environment of the process.
	Env []string

	// Dir is the working directory of the process.
	Dir string

	Cols uint16
	Rows uint16
}

// Process is a command running on the slave side of a PTY.
type Process struct {
	PTY  PTY
	proc *os.Process
	pid  int
	tree processTree
}

// processTree reaches the process and everything it started.
type processTree interface {
	// hangup asks every member to terminate.
	hangup() error

	// kill terminates every member without notice.
	kill() error

	// release frees platform resources held for the tree.
	release() error
}

// PID returns the process ID of the running process.
func (p *Process) PID() int {
	return p.pid
}

// Wait blocks until the process exits and returns its exit code.
// A process terminated by a signal reports -1.
func (p *Process) Wait() (int, error) {
	state, err := p.proc.Wait()
	if err != nil {
		return -1, err
	}
	return state.ExitCode(), nil
}

// Hangup asks the process and all of its descendants to terminate, the
// way a terminal hangup does.
func (p *Process) Hangup() error {
	return p.tree.hangup()
}

// Kill forcibly terminates the process and all of its descendants,
// including background jobs in other process groups.
func (p *Process) Kill() error {
	return p.tree.kill()
}

// Close closes the PTY master and releases the process tree.
func (p *Process) Close() error {
	err := p.PTY.Close()
	if rerr := p.tree.release(); rerr != nil && err == nil {
		err = rerr
	}
	return err
}
