//go:build windows

package main

import (
	"os/exec"
	"syscall"
)

// detach starts the child in a new process group
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
