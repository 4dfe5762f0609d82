package socket

import (
	"fmt"
	"net"
	"os/exec"
	"time"
)

// launchd restarts krbtled, so no respawn here
func DaemonDial(unixFile string) (conn net.Conn, err error) {
	conn, err = net.Dial("unix", unixFile)
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
