//go:build !windows
// +build !windows

package socket

import (
	"net"
	"os"
)

func DaemonListen() (listener net.Listener, err error) {
	socketPath, err := KrDirFile(DAEMON_SOCKET_FILENAME)
	if err != nil {
		return
	}
	//	delete UNIX socket in case daemon was not killed cleanly
	_ = os.Remove(socketPath)
	listener, err = net.Listen("unix", socketPath)
	if err != nil {
		return
	}
	listener = SameUserListener{listener}
	return
}
