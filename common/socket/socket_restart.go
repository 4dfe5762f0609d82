//go:build !darwin && !windows
// +build !darwin,!windows

package socket

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	util "krypt.co/krbtle/common/util"
)

func DaemonDial(unixFile string) (conn net.Conn, err error) {
	if !IsDaemonRunning() {
		os.Stderr.WriteString(util.Yellow("krbtle ▶ Restarting krbtled...\r\n"))
		exec.Command("nohup", DAEMON_BINARY).Start()
		<-time.After(1 * time.Second)
	}
	conn, err = net.Dial("unix", unixFile)
	if err != nil {
		//	restart then try again
		os.Stderr.WriteString(util.Yellow("krbtle ▶ Restarting krbtled...\r\n"))
		KillDaemon()
		exec.Command("nohup", DAEMON_BINARY).Start()
		<-time.After(1 * time.Second)
		conn, err = net.Dial("unix", unixFile)
	}
	if err != nil {
		err = fmt.Errorf("Failed to connect to krbtled. Please make sure it is running by typing \"krbtle restart\".")
	}
	return
}

func KillDaemon() {
	exec.Command("pkill", "-U", User(), "-x", DAEMON_BINARY).Run()
	<-time.After(1 * time.Second)
}

func IsDaemonRunning() bool {
	err := exec.Command("pgrep", "-U", User(), "-x", DAEMON_BINARY).Run()
	return nil == err
}
