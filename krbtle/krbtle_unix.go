//go:build !windows
// +build !windows

package main

import (
	"os/exec"

	. "krypt.co/krbtle/common/socket"
)

func initTerminal() {}

func restartDaemon() {
	KillDaemon()
	exec.Command("nohup", DAEMON_BINARY).Start()
}
