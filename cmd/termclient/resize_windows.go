//go:build windows

package main

// watchResize is a no-op: Windows consoles do not signal size changes.
func watchResize(func()) (stop func()) {
	return func() {}
}
