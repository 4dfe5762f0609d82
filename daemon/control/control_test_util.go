package control

import (
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/op/go-logging"

	"krypt.co/krbtle/boundary"
	"krypt.co/krbtle/btle"
	"krypt.co/krbtle/common/log"
	. "krypt.co/krbtle/common/persistance"
	. "krypt.co/krbtle/common/util"
	"krypt.co/krbtle/hw/sim"
)

var testLogOnce sync.Once
var testLog *logging.Logger

// TestLogger installs the logging backend once per test binary. Drivers from
// earlier tests keep logging from their queues, so the global backend must
// not be swapped after the first one starts.
func TestLogger() *logging.Logger {
	testLogOnce.Do(func() {
		testLog = log.SetupLogging("test", logging.INFO, false)
	})
	return testLog
}

func NewTestDriver(radio *sim.Radio) *btle.Driver {
	opts := btle.DefaultOptions()
	opts.RotateDelay = 20 * time.Millisecond
	central, peripheral, _ := radio.Hardware()
	return btle.New(central, peripheral, &opts, TestLogger())
}

func NewTestAdapter(d *btle.Driver) boundary.Adapter {
	return boundary.Adapter{
		Driver:   func() *btle.Driver { return d },
		Teardown: d.Shutdown,
	}
}

// serves a control server backed by a powered-on simulated radio
func NewLocalUnixServer(t *testing.T, persister Persister) (radio *sim.Radio, cs *ControlServer, unixFile string) {
	radio = sim.New()
	radio.PowerOn()
	logger := TestLogger()
	cs = NewControlServer(NewTestAdapter(NewTestDriver(radio)), persister, logger)

	randFile, err := Rand128Base62()
	if err != nil {
		t.Fatal(err)
	}
	unixFile = filepath.Join(os.TempDir(), randFile)
	l, err := net.Listen("unix", unixFile)
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		cs.HandleControlHTTP(l)
	}()
	return
}
