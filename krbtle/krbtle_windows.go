//go:build windows
// +build windows

package main

import (
	"os/exec"

	"golang.org/x/sys/windows"

	. "krypt.co/krbtle/common/socket"
)

func initTerminal() {
	var m uint32
	windows.GetConsoleMode(windows.Stdout, &m)
	windows.SetConsoleMode(windows.Stdout, m|windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING)
}

func restartDaemon() {
	KillDaemon()
	exec.Command(DAEMON_BINARY + ".exe").Start()
}
