//go:build !unix

package worker

import "os/exec"

// stopGroup keeps the default cancellation, which kills the child only.
func stopGroup(*exec.Cmd) {}

func killGroup(*exec.Cmd) {}
