package socket

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strings"
	"time"
)

func User() string {
	user := os.Getenv("USER")
	if user == "" {
		whoami, err := exec.Command("whoami").Output()
		if err == nil {
			user = strings.TrimSpace(string(whoami))
			os.Setenv("USER", user)
		}
	}
	return user
}

func HomeDir() (home string) {
	user, err := user.Lookup(User())
	if err == nil && user != nil {
		home = user.HomeDir
	} else {
		home = os.Getenv("HOME")
	}
	return
}

func KrDir() (krPath string, err error) {
	krPath = filepath.Join(HomeDir(), ".kr")
	err = os.MkdirAll(krPath, os.FileMode(0700))
	return
}

func KrDirFile(file string) (fullPath string, err error) {
	krPath, err := KrDir()
	if err != nil {
		return
	}
	fullPath = filepath.Join(krPath, file)
	return
}

const DAEMON_SOCKET_FILENAME = "krbtled.sock"
const DAEMON_BINARY = "krbtled"

func pingDaemon(unixFile string) (err error) {
	conn, err := DaemonDial(unixFile)
	if err != nil {
		return
	}
	defer conn.Close()

	pingRequest, err := http.NewRequest("GET", "/ping", nil)
	if err != nil {
		return
	}
	err = pingRequest.Write(conn)
	if err != nil {
		return
	}
	responseReader := bufio.NewReader(conn)
	_, err = http.ReadResponse(responseReader, pingRequest)
	if err != nil {
		err = fmt.Errorf("Daemon Read error: %s", err.Error())
		return
	}
	return
}

func DaemonDialWithTimeout(unixFile string) (conn net.Conn, err error) {
	done := make(chan error, 1)
	go func() {
		done <- pingDaemon(unixFile)
	}()

	select {
	case <-time.After(5 * time.Second):
		err = fmt.Errorf("ping timed out")
		return
	case err = <-done:
	}
	if err != nil {
		return
	}

	conn, err = DaemonDial(unixFile)
	return
}

func DaemonSocketOrFatal() (unixFile string) {
	unixFile, err := KrDirFile(DAEMON_SOCKET_FILENAME)
	if err != nil {
		log.Fatal("Could not open connection to krbtled. Make sure it is running by typing \"krbtle restart\".")
	}
	return
}
