//go:build windows

package pty

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"unicode/utf16"
	"unsafe"

	"golang.org/x/sys/windows"
)

// FallbackShell runs when neither the configured shell nor $SHELL is set.
const FallbackShell = "cmd.exe"

// windowsPTY implements PTY on top of a ConPTY pseudo console.
type windowsPTY struct {
	console windows.Handle
	output  *os.File // read end of the console's output pipe
	input   *os.File // write end of the console's input pipe
}

// Read reads process output from the pseudo console.
func (p *windowsPTY) Read(b []byte) (int, error) {
	return p.output.Read(b)
}

// Write writes process input to the pseudo console.
func (p *windowsPTY) Write(b []byte) (int, error) {
	return p.input.Write(b)
}

// Close closes the pseudo console and both pipes. Closing the console
// ends pending reads.
func (p *windowsPTY) Close() error {
	if p.console != 0 {
		windows.ClosePseudoConsole(p.console)
		p.console = 0
	}
	err := p.input.Close()
	if oerr := p.output.Close(); oerr != nil && err == nil {
		err = oerr
	}
	return err
}

// Fd returns the pseudo console handle.
func (p *windowsPTY) Fd() uintptr {
	return uintptr(p.console)
}

// Resize changes the console buffer size.
func (p *windowsPTY) Resize(cols, rows uint16) error {
	if err := windows.ResizePseudoConsole(p.console, coord(cols, rows)); err != nil {
		return fmt.Errorf("ResizePseudoConsole failed: %w", err)
	}
	return nil
}

func coord(cols, rows uint16) windows.Coord {
	return windows.Coord{X: int16(cols), Y: int16(rows)}
}

// Start launches opts.Command attached to a new ConPTY pseudo console
// (Windows 10 1809+). The process runs inside a job object so that Kill
// reaches everything it starts.
func Start(opts StartOptions) (*Process, error) {
	cols, rows := opts.Cols, opts.Rows
	if cols == 0 || rows == 0 {
		cols, rows = DefaultCols, DefaultRows
	}

	// The console reads ptyIn and writes ptyOut; we hold the other ends.
	var ptyIn, inWrite, outRead, ptyOut windows.Handle
	if err := windows.CreatePipe(&ptyIn, &inWrite, nil, 0); err != nil {
		return nil, fmt.Errorf("failed to create input pipe: %w", err)
	}
	if err := windows.CreatePipe(&outRead, &ptyOut, nil, 0); err != nil {
		closeHandles(ptyIn, inWrite)
		return nil, fmt.Errorf("failed to create output pipe: %w", err)
	}

	var console windows.Handle
	if err := windows.CreatePseudoConsole(coord(cols, rows), ptyIn, ptyOut, 0, &console); err != nil {
		closeHandles(ptyIn, inWrite, outRead, ptyOut)
		return nil, fmt.Errorf("CreatePseudoConsole failed: %w", err)
	}
	// The console holds its own duplicates.
	closeHandles(ptyIn, ptyOut)

	fail := func(err error) (*Process, error) {
		windows.ClosePseudoConsole(console)
		closeHandles(inWrite, outRead)
		return nil, err
	}

	job, err := newKillOnCloseJob()
	if err != nil {
		return fail(err)
	}

	pi, err := createProcess(opts, console)
	if err != nil {
		windows.CloseHandle(job)
		return fail(err)
	}
	defer windows.CloseHandle(pi.Thread)

	if err := windows.AssignProcessToJobObject(job, pi.Process); err != nil {
		windows.TerminateProcess(pi.Process, 1)
		closeHandles(pi.Process, job)
		return fail(fmt.Errorf("AssignProcessToJobObject failed: %w", err))
	}
	if _, err := windows.ResumeThread(pi.Thread); err != nil {
		windows.TerminateJobObject(job, 1)
		closeHandles(pi.Process, job)
		return fail(fmt.Errorf("ResumeThread failed: %w", err))
	}

	proc, err := os.FindProcess(int(pi.ProcessId))
	windows.CloseHandle(pi.Process)
	if err != nil {
		windows.TerminateJobObject(job, 1)
		windows.CloseHandle(job)
		return fail(fmt.Errorf("failed to open process: %w", err))
	}

	return &Process{
		PTY: &windowsPTY{
			console: console,
			output:  os.NewFile(uintptr(outRead), "conpty-output"),
			input:   os.NewFile(uintptr(inWrite), "conpty-input"),
		},
		proc: proc,
		pid:  int(pi.ProcessId),
		tree: &jobTree{job: job},
	}, nil
}

// createProcess starts the command suspended with the pseudo console
// attached through the process attribute list.
func createProcess(opts StartOptions, console windows.Handle) (*windows.ProcessInformation, error) {
	attrs, err := windows.NewProcThreadAttributeList(1)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate attribute list: %w", err)
	}
	defer attrs.Delete()
	if err := attrs.Update(windows.PROC_THREAD_ATTRIBUTE_PSEUDOCONSOLE, unsafe.Pointer(console), unsafe.Sizeof(console)); err != nil {
		return nil, fmt.Errorf("failed to attach pseudo console: %w", err)
	}

	si := &windows.StartupInfoEx{ProcThreadAttributeList: attrs.List()}
	si.Cb = uint32(unsafe.Sizeof(*si))
	si.Flags = windows.STARTF_USESTDHANDLES

	cmdLine, err := windows.UTF16PtrFromString(windows.ComposeCommandLine(append([]string{opts.Command}, opts.Args...)))
	if err != nil {
		return nil, err
	}
	var dir *uint16
	if opts.Dir != "" {
		if dir, err = windows.UTF16PtrFromString(opts.Dir); err != nil {
			return nil, err
		}
	}
	env := opts.Env
	if env == nil {
		env = os.Environ()
	}
	block, err := environmentBlock(env)
	if err != nil {
		return nil, err
	}

	pi := new(windows.ProcessInformation)
	flags := uint32(windows.EXTENDED_STARTUPINFO_PRESENT | windows.CREATE_UNICODE_ENVIRONMENT | windows.CREATE_SUSPENDED)
	if err := windows.CreateProcess(nil, cmdLine, nil, nil, false, flags, &block[0], dir, &si.StartupInfo, pi); err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}
	return pi, nil
}

// environmentBlock encodes env as a double NUL terminated UTF-16 block.
func environmentBlock(env []string) ([]uint16, error) {
	var block []uint16
	for _, kv := range env {
		if strings.IndexByte(kv, 0) >= 0 {
			return nil, fmt.Errorf("environment entry %q contains NUL", kv)
		}
		block = append(block, utf16.Encode([]rune(kv))...)
		block = append(block, 0)
	}
	if len(block) == 0 {
		block = append(block, 0)
	}
	return append(block, 0), nil
}

func newKillOnCloseJob() (windows.Handle, error) {
	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return 0, fmt.Errorf("CreateJobObject failed: %w", err)
	}
	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	if _, err := windows.SetInformationJobObject(job, windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)), uint32(unsafe.Sizeof(info))); err != nil {
		windows.CloseHandle(job)
		return 0, fmt.Errorf("SetInformationJobObject failed: %w", err)
	}
	return job, nil
}

func closeHandles(handles ...windows.Handle) {
	for _, h := range handles {
		windows.CloseHandle(h)
	}
}

// jobTree is every process started inside the job. Windows has no
// hangup, so both paths terminate the job.
type jobTree struct {
	mu  sync.Mutex
	job windows.Handle
}

func (j *jobTree) hangup() error {
	return j.kill()
}

func (j *jobTree) kill() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.job == 0 {
		return nil
	}
	if err := windows.TerminateJobObject(j.job, 1); err != nil {
		return fmt.Errorf("TerminateJobObject failed: %w", err)
	}
	return nil
}

func (j *jobTree) release() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.job == 0 {
		return nil
	}
	err := windows.CloseHandle(j.job)
	j.job = 0
	return err
}
