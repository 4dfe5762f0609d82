//go:build windows
// +build windows

package socket

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/Microsoft/go-winio"
	"krypt.co/krbtle/common/util"
)

const DAEMON_PIPE = "\\\\.\\pipe\\krbtled"

func DaemonListen() (listener net.Listener, err error) {
	listener, err = winio.ListenPipe(DAEMON_PIPE, nil)
	return
}

// unixFile is ignored, the control server listens on a named pipe
func DaemonDial(unixFile string) (conn net.Conn, err error) {
	if !IsDaemonRunning() {
		os.Stderr.WriteString(util.Yellow("krbtle ▶ Restarting krbtled...\r\n"))
		_ = exec.Command("cmd.exe", "/C", "start", "/b", DAEMON_BINARY+".exe").Start()
		<-time.After(1 * time.Second)
	}
	timeout := 2 * time.Second
	conn, err = winio.DialPipe(DAEMON_PIPE, &timeout)
	if err != nil {
		err = fmt.Errorf("Failed to connect to krbtled. Please make sure it is running by typing \"krbtle restart\".")
	}
	return
}

func KillDaemon() {
	_ = exec.Command("taskkill", "/F", "/FI", `USERNAME eq `+User(), "/IM", DAEMON_BINARY+".exe").Run()
	<-time.After(1 * time.Second)
}

func IsDaemonRunning() bool {
	cmd := exec.Command("tasklist", "/FI", `USERNAME eq `+User(), "/FI", `IMAGENAME eq `+DAEMON_BINARY+".exe")
	if ret, err := cmd.CombinedOutput(); err == nil {
		return bytes.Contains(ret, []byte(DAEMON_BINARY+".exe"))
	}
	return false
}
