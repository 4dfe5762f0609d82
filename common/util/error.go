package util

import (
	"fmt"
)

var ErrConnectingToDaemon = fmt.Errorf("Could not connect to krbtled. Make sure it is running by typing \"krbtle restart\".")
var ErrDaemonResponse = fmt.Errorf("krbtled returned an unexpected response.")
