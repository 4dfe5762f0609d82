//go:build !windows
// +build !windows

package socket

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"krypt.co/krbtle/common/util"
)

func TestSameUserListenerAcceptsOwnConnections(t *testing.T) {
	randFile, err := util.Rand128Base62()
	if err != nil {
		t.Fatal(err)
	}
	unixFile := filepath.Join(os.TempDir(), randFile)
	defer os.Remove(unixFile)
	l, err := net.Listen("unix", unixFile)
	if err != nil {
		t.Fatal(err)
	}
	listener := SameUserListener{l}
	defer listener.Close()

	accepted := make(chan error, 1)
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			conn.Close()
		}
		accepted <- err
	}()

	conn, err := net.Dial("unix", unixFile)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if err := <-accepted; err != nil {
		t.Fatal(err)
	}
}
