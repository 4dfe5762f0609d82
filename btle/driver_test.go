package btle_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/op/go-logging"
	"github.com/pkg/errors"
	"github.com/satori/go.uuid"

	. "krypt.co/krbtle/btle"
	. "krypt.co/krbtle/common/util"
	"krypt.co/krbtle/hw/sim"
)

var testLog = logging.MustGetLogger("test")

func testOptions() *Options {
	opts := DefaultOptions()
	opts.RotateDelay = 20 * time.Millisecond
	return &opts
}

func newTestDriver(t *testing.T) (radio *sim.Radio, d *Driver) {
	radio = sim.New()
	radio.PowerOn()
	central, peripheral, _ := radio.Hardware()
	d = New(central, peripheral, testOptions(), testLog)
	return
}

func testUUIDs(n int) (uuids []uuid.UUID) {
	for i := 0; i < n; i++ {
		uuids = append(uuids, ServiceUUID(string(rune('a'+i))))
	}
	return
}

func TestInstanceIsSingleton(t *testing.T) {
	radio := sim.New()
	radio.PowerOn()
	SetHardwareFactory(radio.Hardware)
	defer SetHardwareFactory(nil)
	defer Shutdown()

	instances := make(chan *Driver, 10)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			instances <- Instance()
		}()
	}
	wg.Wait()
	close(instances)
	first := Instance()
	for d := range instances {
		if d != first {
			t.Fatal("Instance returned distinct drivers")
		}
	}

	Shutdown()
	Shutdown()
	if !radio.Closed() {
		t.Fatal("shutdown should release the hardware")
	}
	if Instance() == first {
		t.Fatal("Instance after Shutdown should build a fresh driver")
	}
}

func TestInstanceWithoutHardwareIsUnsupported(t *testing.T) {
	SetHardwareFactory(func() (Central, Peripheral, error) {
		return nil, nil, errors.New("no adapter")
	})
	defer SetHardwareFactory(nil)
	defer Shutdown()

	d := Instance()
	ctx := context.Background()
	if err := d.AddService(ctx, ServiceUUID("x"), nil); !errors.Is(err, ErrUnsupportedHardware) {
		t.Fatal("expected ErrUnsupportedHardware, got", err)
	}
	if err := d.WriteData(ctx, []byte("x")); !errors.Is(err, ErrUnsupportedHardware) {
		t.Fatal("expected ErrUnsupportedHardware, got", err)
	}
	err := d.StartScan(ctx, nil, VanadiumBaseUUID, VanadiumMaskUUID, ScanHandlerFunc(func(context.Context, DiscoveryEvent) {}))
	if !errors.Is(err, ErrUnsupportedHardware) {
		t.Fatal("expected ErrUnsupportedHardware, got", err)
	}
	if d.ServiceCount(ctx) != 0 {
		t.Fatal("nothing should be registered")
	}
}

func TestShutdownResolvesPendingOperations(t *testing.T) {
	radio, d := newTestDriver(t)
	radio.AutoAccept = false
	radio.SetReady(false)
	ctx := context.Background()

	add, err := d.AddServiceAsync(ctx, ServiceUUID("pending"), nil)
	if err != nil {
		t.Fatal(err)
	}
	write, err := d.WriteDataAsync(ctx, []byte("pending"))
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-add.Done():
		t.Fatal("add resolved before acceptance")
	case <-write.Done():
		t.Fatal("write resolved before ready")
	default:
	}

	d.Shutdown()
	d.Shutdown()
	if err := add.Wait(ctx); !errors.Is(err, ErrShutdown) {
		t.Fatal("expected ErrShutdown for add, got", err)
	}
	if err := write.Wait(ctx); !errors.Is(err, ErrShutdown) {
		t.Fatal("expected ErrShutdown for write, got", err)
	}
	if err := d.AddService(ctx, ServiceUUID("late"), nil); !errors.Is(err, ErrShutdown) {
		t.Fatal("expected ErrShutdown after shutdown, got", err)
	}
	if _, ok := <-d.Read; ok {
		t.Fatal("read channel should be closed")
	}
	if radio.IsAdvertising() {
		t.Fatal("advertising should stop")
	}
}

func TestDebugString(t *testing.T) {
	_, d := newTestDriver(t)
	defer d.Shutdown()
	ctx := context.Background()
	if err := d.AddService(ctx, ServiceUUID("debug"), nil); err != nil {
		t.Fatal(err)
	}
	debug := d.DebugString(ctx)
	for _, want := range []string{"state=Advertising", "services=1", ServiceUUID("debug").String(), "scanning:"} {
		if !strings.Contains(debug, want) {
			t.Fatalf("debug string %q missing %q", debug, want)
		}
	}
	d.Shutdown()
	if d.DebugString(ctx) != "driver shut down" {
		t.Fatal("unexpected debug string after shutdown")
	}
}

func waitFor(t *testing.T, predicate func() bool) {
	TrueBefore(t, predicate, time.Now().Add(2*time.Second))
}
