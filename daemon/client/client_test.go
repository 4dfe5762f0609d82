package client

import (
	"bytes"
	"context"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/satori/go.uuid"

	"krypt.co/krbtle/boundary"
	"krypt.co/krbtle/btle"
	. "krypt.co/krbtle/common/persistance"
	. "krypt.co/krbtle/common/util"
	"krypt.co/krbtle/common/version"
	. "krypt.co/krbtle/daemon/control"
)

func dialTest(t *testing.T, unixFile string) net.Conn {
	conn, err := net.Dial("unix", unixFile)
	if err != nil {
		t.Fatal(err)
	}
	return conn
}

func TestVersion(t *testing.T) {
	_, cs, unixFile := NewLocalUnixServer(t, nil)
	defer cs.Stop()
	defer os.Remove(unixFile)

	conn := dialTest(t, unixFile)
	defer conn.Close()
	v, err := RequestVersionOver(conn)
	if err != nil {
		t.Fatal(err)
	}
	if v.Compare(version.CURRENT_VERSION) != 0 {
		t.Fatal("wrong version")
	}
}

func TestAdvertise(t *testing.T) {
	persister := &MemoryPersister{}
	radio, cs, unixFile := NewLocalUnixServer(t, persister)
	defer cs.Stop()
	defer os.Remove(unixFile)
	service := btle.ServiceUUID("client").String()

	conn := dialTest(t, unixFile)
	result, err := RequestAddServiceOver(conn, service, map[string][]byte{
		btle.ServiceUUID("attrs").String(): []byte("v"),
	})
	conn.Close()
	if err != nil {
		t.Fatal(err)
	}
	if !result.OK {
		t.Fatal("add failed:", result.Message)
	}
	if !radio.IsAdvertising() {
		t.Fatal("radio should be advertising")
	}

	conn = dialTest(t, unixFile)
	count, err := RequestCountOver(conn)
	conn.Close()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatal("expected one service, got", count)
	}

	state, err := persister.LoadState()
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Services) != 1 || state.Services[0].UUID != service {
		t.Fatal("service not persisted", state)
	}

	conn = dialTest(t, unixFile)
	duplicate, err := RequestAddServiceOver(conn, service, nil)
	conn.Close()
	if err != nil {
		t.Fatal(err)
	}
	if duplicate.OK || *duplicate.Error != boundary.DuplicateServiceError {
		t.Fatal("expected DuplicateServiceError, got", duplicate)
	}

	conn = dialTest(t, unixFile)
	err = RequestRemoveServiceOver(conn, service)
	conn.Close()
	if err != nil {
		t.Fatal(err)
	}
	conn = dialTest(t, unixFile)
	count, err = RequestCountOver(conn)
	conn.Close()
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatal("expected no services, got", count)
	}
	state, _ = persister.LoadState()
	if len(state.Services) != 0 {
		t.Fatal("removal not persisted")
	}
}

func TestAdvertiseInvalidUUID(t *testing.T) {
	_, cs, unixFile := NewLocalUnixServer(t, nil)
	defer cs.Stop()
	defer os.Remove(unixFile)

	conn := dialTest(t, unixFile)
	defer conn.Close()
	result, err := RequestAddServiceOver(conn, "not-a-uuid", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.OK || *result.Error != boundary.InvalidArgumentError {
		t.Fatal("expected InvalidArgumentError, got", result)
	}
}

func TestRotateDelay(t *testing.T) {
	persister := &MemoryPersister{}
	_, cs, unixFile := NewLocalUnixServer(t, persister)
	defer cs.Stop()
	defer os.Remove(unixFile)

	conn := dialTest(t, unixFile)
	result, err := RequestSetRotateDelayOver(conn, 2.5)
	conn.Close()
	if err != nil || !result.OK {
		t.Fatal("set rotate delay failed", err, result)
	}
	conn = dialTest(t, unixFile)
	seconds, err := RequestRotateDelayOver(conn)
	conn.Close()
	if err != nil {
		t.Fatal(err)
	}
	if seconds != 2.5 {
		t.Fatal("expected 2.5 seconds, got", seconds)
	}
	state, _ := persister.LoadState()
	if state.RotateDelaySeconds != 2.5 {
		t.Fatal("rotate delay not persisted")
	}

	conn = dialTest(t, unixFile)
	result, err = RequestSetRotateDelayOver(conn, -1)
	conn.Close()
	if err != nil {
		t.Fatal(err)
	}
	if result.OK || *result.Error != boundary.InvalidArgumentError {
		t.Fatal("expected InvalidArgumentError, got", result)
	}
}

func TestWrite(t *testing.T) {
	radio, cs, unixFile := NewLocalUnixServer(t, nil)
	defer cs.Stop()
	defer os.Remove(unixFile)

	conn := dialTest(t, unixFile)
	defer conn.Close()
	result, err := RequestWriteOver(conn, []byte("hello"))
	if err != nil || !result.OK {
		t.Fatal("write failed", err, result)
	}
	notifications := radio.Notifications()
	if len(notifications) != 1 || !bytes.Equal(notifications[0], []byte("hello")) {
		t.Fatal("expected one notification, got", notifications)
	}
}

func TestScanEvents(t *testing.T) {
	radio, cs, unixFile := NewLocalUnixServer(t, nil)
	defer cs.Stop()
	defer os.Remove(unixFile)
	service := btle.ServiceUUID("scanned")

	conn := dialTest(t, unixFile)
	result, err := RequestStartScanOver(conn, ScanRequest{})
	conn.Close()
	if err != nil || !result.OK {
		t.Fatal("scan failed", err, result)
	}
	conn = dialTest(t, unixFile)
	second, err := RequestStartScanOver(conn, ScanRequest{})
	conn.Close()
	if err != nil {
		t.Fatal(err)
	}
	if second.OK || *second.Error != boundary.ScanInProgressError {
		t.Fatal("expected ScanInProgressError, got", second)
	}

	if !radio.Discover(btle.Advertisement{ServiceUUIDs: []uuid.UUID{service}, RSSI: -50}) {
		t.Fatal("radio not scanning")
	}

	var mutex sync.Mutex
	var discoveries []boundary.Discovery
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	streamConn := dialTest(t, unixFile)
	defer streamConn.Close()
	go StreamDiscoveriesOver(ctx, streamConn, func(discovery boundary.Discovery) {
		mutex.Lock()
		defer mutex.Unlock()
		discoveries = append(discoveries, discovery)
	})
	TrueBefore(t, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return len(discoveries) == 1 && discoveries[0].UUID == service.String() && discoveries[0].RSSI == -50
	}, time.Now().Add(2*time.Second))

	conn = dialTest(t, unixFile)
	seen, err := RequestLastSeenOver(conn, service.String())
	conn.Close()
	if err != nil {
		t.Fatal(err)
	}
	if seen.UUID != service.String() {
		t.Fatal("wrong last seen", seen)
	}

	conn = dialTest(t, unixFile)
	err = RequestStopScanOver(conn)
	conn.Close()
	if err != nil {
		t.Fatal(err)
	}
	if radio.IsScanning() {
		t.Fatal("radio still scanning")
	}
}

func TestDataEvents(t *testing.T) {
	radio, cs, unixFile := NewLocalUnixServer(t, nil)
	defer cs.Stop()
	defer os.Remove(unixFile)
	message := bytes.Repeat([]byte("frame"), 60)

	received := make(chan []byte, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	streamConn := dialTest(t, unixFile)
	defer streamConn.Close()
	go StreamMessagesOver(ctx, streamConn, func(data []byte) {
		received <- data
	})

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case data := <-received:
			if !bytes.Equal(data, message) {
				t.Fatal("message corrupted")
			}
			return
		case <-ticker.C:
			radio.DeliverMessage(message)
		case <-timeout:
			t.Fatal("message not streamed")
		}
	}
}

func TestDebugAndShutdown(t *testing.T) {
	persister := &MemoryPersister{}
	radio, cs, unixFile := NewLocalUnixServer(t, persister)
	defer cs.Stop()
	defer os.Remove(unixFile)
	service := btle.ServiceUUID("debug").String()

	conn := dialTest(t, unixFile)
	result, err := RequestAddServiceOver(conn, service, nil)
	conn.Close()
	if err != nil || !result.OK {
		t.Fatal("add failed", err, result)
	}

	conn = dialTest(t, unixFile)
	debug, err := RequestDebugOver(conn)
	conn.Close()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains([]byte(debug), []byte(service)) {
		t.Fatal("debug string missing service:", debug)
	}

	conn = dialTest(t, unixFile)
	err = RequestShutdownOver(conn)
	conn.Close()
	if err != nil {
		t.Fatal(err)
	}
	if !radio.Closed() {
		t.Fatal("hardware not released")
	}
	state, _ := persister.LoadState()
	if len(state.Services) != 1 {
		t.Fatal("services should survive shutdown in saved state")
	}

	conn = dialTest(t, unixFile)
	defer conn.Close()
	result, err = RequestAddServiceOver(conn, btle.ServiceUUID("late").String(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.OK || *result.Error != boundary.ShutdownError {
		t.Fatal("expected ShutdownError, got", result)
	}
}
