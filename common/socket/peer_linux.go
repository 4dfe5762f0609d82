package socket

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

var ErrForeignPeer = fmt.Errorf("control socket peer belongs to another user")

func CheckPeer(conn net.Conn) (err error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return
	}
	raw, err := unixConn.SyscallConn()
	if err != nil {
		return
	}
	var cred *unix.Ucred
	var credErr error
	err = raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return
	}
	if credErr != nil {
		err = credErr
		return
	}
	if int(cred.Uid) != os.Getuid() && cred.Uid != 0 {
		err = ErrForeignPeer
	}
	return
}
