package btle_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/satori/go.uuid"

	. "krypt.co/krbtle/btle"
)

type collector struct {
	sync.Mutex
	events []DiscoveryEvent
}

func (c *collector) OnDiscovered(ctx context.Context, event DiscoveryEvent) {
	c.Lock()
	defer c.Unlock()
	c.events = append(c.events, event)
}

func (c *collector) Events() []DiscoveryEvent {
	c.Lock()
	defer c.Unlock()
	return append([]DiscoveryEvent{}, c.events...)
}

var outsideMask = uuid.Must(uuid.FromString("20f53e48-c08d-423a-b2c2-1c797889af24"))

func TestScanDeliversOnlyMatchingServices(t *testing.T) {
	radio, d := newTestDriver(t)
	defer d.Shutdown()
	ctx := context.Background()
	c := &collector{}
	if err := d.StartScan(ctx, nil, VanadiumBaseUUID, VanadiumMaskUUID, c); err != nil {
		t.Fatal(err)
	}
	matching := ServiceUUID("mounttable")
	characteristic := ServiceUUID("characteristic")
	radio.Discover(Advertisement{
		ServiceUUIDs:    []uuid.UUID{outsideMask, matching},
		Characteristics: map[uuid.UUID][]byte{characteristic: []byte("v")},
		RSSI:            -60,
	})
	radio.Discover(Advertisement{ServiceUUIDs: []uuid.UUID{outsideMask}, RSSI: -30})
	waitFor(t, func() bool {
		return len(c.Events()) == 1
	})
	<-time.After(20 * time.Millisecond)
	events := c.Events()
	if len(events) != 1 {
		t.Fatal("non-matching advertisement delivered")
	}
	event := events[0]
	if !uuid.Equal(event.UUID, matching) || event.RSSI != -60 {
		t.Fatal("wrong event", event)
	}
	if string(event.Characteristics[characteristic]) != "v" {
		t.Fatal("characteristics not delivered")
	}
	seen, ok := d.LastSeen(ctx, matching)
	if !ok || seen.RSSI != -60 {
		t.Fatal("discovery not remembered")
	}
	if _, ok := d.LastSeen(ctx, outsideMask); ok {
		t.Fatal("non-matching uuid remembered")
	}
}

func TestScanExplicitUUIDs(t *testing.T) {
	radio, d := newTestDriver(t)
	defer d.Shutdown()
	ctx := context.Background()
	c := &collector{}
	if err := d.StartScan(ctx, []uuid.UUID{outsideMask}, VanadiumBaseUUID, VanadiumMaskUUID, c); err != nil {
		t.Fatal(err)
	}
	radio.Discover(Advertisement{ServiceUUIDs: []uuid.UUID{ServiceUUID("masked")}, RSSI: -40})
	radio.Discover(Advertisement{ServiceUUIDs: []uuid.UUID{outsideMask}, RSSI: -41})
	waitFor(t, func() bool {
		return len(c.Events()) == 1
	})
	if c.Events()[0].RSSI != -41 {
		t.Fatal("explicit set should ignore the mask")
	}
}

func TestInvalidRSSIDropped(t *testing.T) {
	radio, d := newTestDriver(t)
	defer d.Shutdown()
	ctx := context.Background()
	c := &collector{}
	if err := d.StartScan(ctx, nil, VanadiumBaseUUID, VanadiumMaskUUID, c); err != nil {
		t.Fatal(err)
	}
	u := ServiceUUID("rssi")
	radio.Discover(Advertisement{ServiceUUIDs: []uuid.UUID{u}, RSSI: 127})
	radio.Discover(Advertisement{ServiceUUIDs: []uuid.UUID{u}, RSSI: -128})
	radio.Discover(Advertisement{ServiceUUIDs: []uuid.UUID{u}, RSSI: -127})
	waitFor(t, func() bool {
		return len(c.Events()) == 1
	})
	if c.Events()[0].RSSI != -127 {
		t.Fatal("invalid rssi delivered")
	}
}

func TestSecondScanRejected(t *testing.T) {
	_, d := newTestDriver(t)
	defer d.Shutdown()
	ctx := context.Background()
	c := &collector{}
	if err := d.StartScan(ctx, nil, VanadiumBaseUUID, VanadiumMaskUUID, c); err != nil {
		t.Fatal(err)
	}
	if err := d.StartScan(ctx, nil, VanadiumBaseUUID, VanadiumMaskUUID, c); !errors.Is(err, ErrScanInProgress) {
		t.Fatal("expected ErrScanInProgress, got", err)
	}
	d.StopScan(ctx)
	d.StopScan(ctx)
	if err := d.StartScan(ctx, nil, VanadiumBaseUUID, VanadiumMaskUUID, c); err != nil {
		t.Fatal("restart after StopScan failed:", err)
	}
}

func TestStopScanStopsDelivery(t *testing.T) {
	radio, d := newTestDriver(t)
	defer d.Shutdown()
	ctx := context.Background()
	c := &collector{}
	if err := d.StartScan(ctx, nil, VanadiumBaseUUID, VanadiumMaskUUID, c); err != nil {
		t.Fatal(err)
	}
	d.StopScan(ctx)
	if radio.IsScanning() {
		t.Fatal("hardware still scanning")
	}
	radio.Discover(Advertisement{ServiceUUIDs: []uuid.UUID{ServiceUUID("late")}, RSSI: -50})
	d.ServiceCount(ctx)
	if len(c.Events()) != 0 {
		t.Fatal("event delivered after StopScan")
	}
}

func TestScanDeferredUntilPoweredOn(t *testing.T) {
	radio, d := newTestDriver(t)
	defer d.Shutdown()
	ctx := context.Background()
	radio.PowerOff()
	c := &collector{}
	if err := d.StartScan(ctx, nil, VanadiumBaseUUID, VanadiumMaskUUID, c); err != nil {
		t.Fatal(err)
	}
	if radio.ScanRequests() != 0 {
		t.Fatal("scan issued while powered off")
	}
	radio.PowerOn()
	waitFor(t, radio.IsScanning)
	radio.PowerOff()
	radio.PowerOn()
	waitFor(t, func() bool {
		return radio.ScanRequests() == 2
	})
}

func TestScanRejectedByHardwareCanBeRetried(t *testing.T) {
	radio, d := newTestDriver(t)
	defer d.Shutdown()
	ctx := context.Background()
	hwErr := errors.New("scan rejected")
	radio.SetScanErr(hwErr)
	c := &collector{}
	if err := d.StartScan(ctx, nil, VanadiumBaseUUID, VanadiumMaskUUID, c); errors.Cause(err) != hwErr {
		t.Fatal("expected the hardware error, got", err)
	}
	if radio.IsScanning() {
		t.Fatal("scanning after a rejected scan")
	}

	radio.SetScanErr(nil)
	if err := d.StartScan(ctx, nil, VanadiumBaseUUID, VanadiumMaskUUID, c); err != nil {
		t.Fatal("retry after a rejected scan failed:", err)
	}
	if !radio.IsScanning() {
		t.Fatal("expected scanning after retry")
	}
}

func TestScanUnavailable(t *testing.T) {
	radio, d := newTestDriver(t)
	defer d.Shutdown()
	ctx := context.Background()
	radio.SetState(StateUnauthorized)
	c := &collector{}
	waitFor(t, func() bool {
		return errors.Is(d.StartScan(ctx, nil, VanadiumBaseUUID, VanadiumMaskUUID, c), ErrUnauthorized)
	})
}

func TestHandlerReentersDriver(t *testing.T) {
	radio, d := newTestDriver(t)
	defer d.Shutdown()
	ctx := context.Background()

	results := make(chan error, 2)
	handler := ScanHandlerFunc(func(ctx context.Context, event DiscoveryEvent) {
		//	inline calls with the handler context
		results <- d.AddService(ctx, event.UUID, nil)
		d.StopScan(ctx)
		results <- nil
	})
	if err := d.StartScan(ctx, nil, VanadiumBaseUUID, VanadiumMaskUUID, handler); err != nil {
		t.Fatal(err)
	}
	found := ServiceUUID("peer")
	radio.Discover(Advertisement{ServiceUUIDs: []uuid.UUID{found}, RSSI: -70})

	select {
	case err := <-results:
		if !errors.Is(err, ErrReentrantWait) {
			t.Fatal("expected ErrReentrantWait, got", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler deadlocked")
	}
	<-results
	if radio.IsScanning() {
		t.Fatal("StopScan from handler did not run")
	}
	waitFor(t, func() bool {
		return d.AdvertisingState(ctx) == Advertising && d.ServiceCount(ctx) == 1
	})
}
