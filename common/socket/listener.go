package socket

import (
	"net"
)

// drops connections from processes owned by other users
type SameUserListener struct {
	net.Listener
}

func (l SameUserListener) Accept() (conn net.Conn, err error) {
	for {
		conn, err = l.Listener.Accept()
		if err != nil {
			return
		}
		if peerErr := CheckPeer(conn); peerErr != nil {
			conn.Close()
			continue
		}
		return
	}
}
