package boundary

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/satori/go.uuid"

	"krypt.co/krbtle/btle"
	. "krypt.co/krbtle/common/util"
	"krypt.co/krbtle/hw/sim"
)

func testAdapter(t *testing.T) (radio *sim.Radio, a Adapter) {
	radio = sim.New()
	radio.PowerOn()
	btle.SetHardwareFactory(radio.Hardware)
	btle.Shutdown()
	a = DefaultAdapter()
	return
}

func teardown(a Adapter) {
	a.Shutdown()
	btle.SetHardwareFactory(nil)
}

func TestAddServiceRoundTrip(t *testing.T) {
	_, a := testAdapter(t)
	defer teardown(a)
	ctx := context.Background()
	service := btle.ServiceUUID("boundary").String()

	result := a.AddService(ctx, strings.ToUpper(service), map[string][]byte{
		"31ca10d5-0195-54fa-9344-25fcd7072e00": []byte("attrs"),
	})
	if !result.OK || result.Err() != nil {
		t.Fatal("add failed:", result.Message)
	}
	if a.AdvertisingServiceCount(ctx) != 1 {
		t.Fatal("expected one service")
	}
	duplicate := a.AddService(ctx, service, nil)
	if duplicate.OK || duplicate.Error == nil || *duplicate.Error != DuplicateServiceError {
		t.Fatal("expected DuplicateServiceError, got", duplicate)
	}
	a.RemoveService(ctx, "garbage")
	a.RemoveService(ctx, service)
	if a.AdvertisingServiceCount(ctx) != 0 {
		t.Fatal("expected no services")
	}
}

func TestInvalidArguments(t *testing.T) {
	_, a := testAdapter(t)
	defer teardown(a)
	ctx := context.Background()
	for _, result := range []Result{
		a.AddService(ctx, "not-a-uuid", nil),
		a.AddService(ctx, btle.ServiceUUID("x").String(), map[string][]byte{"bad": nil}),
		a.WriteData(ctx, nil),
		a.WriteData(ctx, make([]byte, btle.MAX_MESSAGE_SIZE+1)),
		a.SetAdRotateDelaySeconds(ctx, 0),
		a.StartScan(ctx, []string{"bad"}, "", "", func(Discovery) {}),
		a.StartScan(ctx, nil, "bad", "", func(Discovery) {}),
	} {
		if result.OK || *result.Error != InvalidArgumentError {
			t.Fatal("expected InvalidArgumentError, got", result)
		}
	}
	if a.AdvertisingServiceCount(ctx) != 0 {
		t.Fatal("invalid add registered a service")
	}
}

func TestStartScanDeliversDiscoveries(t *testing.T) {
	radio, a := testAdapter(t)
	defer teardown(a)
	ctx := context.Background()

	var mu sync.Mutex
	var discoveries []Discovery
	result := a.StartScan(ctx, nil, "", "", func(d Discovery) {
		mu.Lock()
		defer mu.Unlock()
		discoveries = append(discoveries, d)
	})
	if !result.OK {
		t.Fatal(result.Message)
	}
	again := a.StartScan(ctx, nil, "", "", func(Discovery) {})
	if again.OK || *again.Error != ScanInProgressError {
		t.Fatal("expected ScanInProgressError")
	}

	found := btle.ServiceUUID("found")
	radio.Discover(btle.Advertisement{ServiceUUIDs: []uuid.UUID{found}, RSSI: -55})
	TrueBefore(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(discoveries) == 1
	}, time.Now().Add(2*time.Second))

	mu.Lock()
	discovery := discoveries[0]
	mu.Unlock()
	if discovery.UUID != found.String() || discovery.RSSI != -55 || discovery.Characteristics != nil {
		t.Fatal("wrong discovery", discovery)
	}
	a.StopScan(ctx)
	if radio.IsScanning() {
		t.Fatal("scan not stopped")
	}
}

func TestShutdownCategory(t *testing.T) {
	radio, a := testAdapter(t)
	defer teardown(a)
	ctx := context.Background()
	radio.AutoAccept = false

	results := make(chan Result, 1)
	go func() {
		results <- a.AddService(ctx, btle.ServiceUUID("pending").String(), nil)
	}()
	TrueBefore(t, func() bool {
		return len(radio.Advertised()) == 1
	}, time.Now().Add(2*time.Second))
	a.Shutdown()
	result := <-results
	if result.OK || *result.Error != ShutdownError {
		t.Fatal("expected ShutdownError, got", result)
	}
	if !strings.Contains(result.Err().Error(), ShutdownError) {
		t.Fatal("Err should carry the category")
	}
}

func TestCategory(t *testing.T) {
	cases := map[error]string{
		btle.ErrUnsupportedHardware:                            UnsupportedHardwareError,
		btle.ErrUnauthorized:                                   UnauthorizedError,
		errors.Wrap(btle.ErrDuplicateService, "uuid"):          DuplicateServiceError,
		btle.ErrShutdown:                                       ShutdownError,
		btle.ErrWriteSuperseded:                                CanceledError,
		errors.Wrap(btle.ErrDataTooLarge, "40000 bytes"):       InvalidArgumentError,
		btle.NewAdvertisingError(errors.New("radio rejected")): AdvertisingError,
		errors.New("something else"):                           InternalError,
	}
	for err, want := range cases {
		if got := Category(err); got != want {
			t.Fatal("category of", err, "is", got, "want", want)
		}
	}
}
