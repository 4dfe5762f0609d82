// Package boundary converts between plain strings/bytes and the driver's
// domain types, so foreign callers never see uuid.UUID or Go errors.
package boundary

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/satori/go.uuid"

	"krypt.co/krbtle/btle"
)

const (
	UnsupportedHardwareError = "UnsupportedHardwareError"
	UnauthorizedError        = "UnauthorizedError"
	DuplicateServiceError    = "DuplicateServiceError"
	ShutdownError            = "ShutdownError"
	InvalidArgumentError     = "InvalidArgumentError"
	ScanInProgressError      = "ScanInProgressError"
	AdvertisingError         = "AdvertisingError"
	CanceledError            = "CanceledError"
	InternalError            = "InternalError"
)

type Result struct {
	OK      bool    `json:"ok"`
	Error   *string `json:"error,omitempty"`
	Message string  `json:"message,omitempty"`
}

func ok() Result {
	return Result{OK: true}
}

func failure(category string, err error) Result {
	return Result{Error: &category, Message: err.Error()}
}

// Err rebuilds a Go error from a Result, nil when OK
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	category := InternalError
	if r.Error != nil {
		category = *r.Error
	}
	return errors.Errorf("%s: %s", category, r.Message)
}

func Category(err error) string {
	var advErr *btle.AdvertisingError
	switch {
	case errors.Is(err, btle.ErrUnsupportedHardware):
		return UnsupportedHardwareError
	case errors.Is(err, btle.ErrUnauthorized):
		return UnauthorizedError
	case errors.Is(err, btle.ErrDuplicateService):
		return DuplicateServiceError
	case errors.Is(err, btle.ErrShutdown):
		return ShutdownError
	case errors.Is(err, btle.ErrScanInProgress):
		return ScanInProgressError
	case errors.Is(err, btle.ErrEmptyData), errors.Is(err, btle.ErrDataTooLarge),
		errors.Is(err, btle.ErrInvalidRotateDelay):
		return InvalidArgumentError
	case errors.Is(err, btle.ErrWriteSuperseded), errors.Is(err, btle.ErrServiceRemoved),
		errors.Is(err, btle.ErrReentrantWait), errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return CanceledError
	case errors.As(err, &advErr):
		return AdvertisingError
	}
	return InternalError
}

func resultOf(err error) Result {
	if err == nil {
		return ok()
	}
	return failure(Category(err), err)
}

type Discovery struct {
	UUID            string            `json:"uuid"`
	Characteristics map[string][]byte `json:"characteristics"`
	RSSI            int               `json:"rssi"`
}

func NewDiscovery(event btle.DiscoveryEvent) (discovery Discovery) {
	discovery = Discovery{
		UUID: event.UUID.String(),
		RSSI: event.RSSI,
	}
	if event.Characteristics != nil {
		discovery.Characteristics = map[string][]byte{}
		for u, value := range event.Characteristics {
			discovery.Characteristics[u.String()] = value
		}
	}
	return
}

func (d Discovery) String() string {
	discoveryJson, _ := json.Marshal(d)
	return string(discoveryJson)
}

// Adapter resolves the driver on every call, as foreign callers hold no reference to it.
type Adapter struct {
	Driver   func() *btle.Driver
	Teardown func()
}

func DefaultAdapter() Adapter {
	return Adapter{
		Driver:   btle.Instance,
		Teardown: btle.Shutdown,
	}
}

func parseUUIDs(uuidStrings []string) (uuids []uuid.UUID, err error) {
	for _, s := range uuidStrings {
		var u uuid.UUID
		u, err = btle.ParseUUID(s)
		if err != nil {
			return
		}
		uuids = append(uuids, u)
	}
	return
}

func (a Adapter) AddService(ctx context.Context, uuidString string, characteristics map[string][]byte) Result {
	u, err := btle.ParseUUID(uuidString)
	if err != nil {
		return failure(InvalidArgumentError, err)
	}
	parsed := map[uuid.UUID][]byte{}
	for charString, value := range characteristics {
		charUUID, err := btle.ParseUUID(charString)
		if err != nil {
			return failure(InvalidArgumentError, err)
		}
		parsed[charUUID] = value
	}
	return resultOf(a.Driver().AddService(ctx, u, parsed))
}

func (a Adapter) WriteData(ctx context.Context, data []byte) Result {
	return resultOf(a.Driver().WriteData(ctx, data))
}

func (a Adapter) AdvertisingServiceCount(ctx context.Context) int {
	return a.Driver().ServiceCount(ctx)
}

// unparsable uuids are never registered, so removing one is a no-op
func (a Adapter) RemoveService(ctx context.Context, uuidString string) {
	u, err := btle.ParseUUID(uuidString)
	if err != nil {
		return
	}
	a.Driver().RemoveService(ctx, u)
}

func (a Adapter) SetAdRotateDelaySeconds(ctx context.Context, seconds float64) Result {
	delay := time.Duration(seconds * float64(time.Second))
	return resultOf(a.Driver().SetRotateDelay(ctx, delay))
}

// sink runs on the driver queue and must return promptly
func (a Adapter) StartScan(ctx context.Context, uuidStrings []string, base, mask string, sink func(Discovery)) Result {
	if sink == nil {
		return failure(InvalidArgumentError, errors.New("discovery sink cannot be nil"))
	}
	uuids, err := parseUUIDs(uuidStrings)
	if err != nil {
		return failure(InvalidArgumentError, err)
	}
	baseUUID, maskUUID := btle.VanadiumBaseUUID, btle.VanadiumMaskUUID
	if strings.TrimSpace(base) != "" {
		if baseUUID, err = btle.ParseUUID(base); err != nil {
			return failure(InvalidArgumentError, err)
		}
	}
	if strings.TrimSpace(mask) != "" {
		if maskUUID, err = btle.ParseUUID(mask); err != nil {
			return failure(InvalidArgumentError, err)
		}
	}
	handler := btle.ScanHandlerFunc(func(ctx context.Context, event btle.DiscoveryEvent) {
		sink(NewDiscovery(event))
	})
	return resultOf(a.Driver().StartScan(ctx, uuids, baseUUID, maskUUID, handler))
}

func (a Adapter) StopScan(ctx context.Context) {
	a.Driver().StopScan(ctx)
}

func (a Adapter) Shutdown() {
	a.Teardown()
}

func (a Adapter) DebugString(ctx context.Context) string {
	return a.Driver().DebugString(ctx)
}
