package btle

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/op/go-logging"
	"github.com/pkg/errors"
	"github.com/satori/go.uuid"
)

// Driver owns one scanning driver and one advertising driver. Their state
// is confined to a single serial queue; hardware events are posted to it.
type Driver struct {
	log        *logging.Logger
	queue      *Queue
	central    Central
	peripheral Peripheral
	scanner    *scanner
	advertiser *advertiser
	stopOnce   sync.Once

	//	reassembled messages written by remote centrals, closed on shutdown
	Read chan []byte
}

func New(central Central, peripheral Peripheral, optionsOverride *Options, log *logging.Logger) *Driver {
	if log == nil {
		log = logging.MustGetLogger("btle")
	}
	opts := DefaultOptions()
	if optionsOverride != nil {
		opts = optionsOverride.normalized()
	}
	queue := NewQueue("krbtle.driver", log)
	read := make(chan []byte, opts.ReadBufferSize)
	d := &Driver{
		log:        log,
		queue:      queue,
		central:    central,
		peripheral: peripheral,
		scanner:    newScanner(queue, central, opts, log),
		advertiser: newAdvertiser(queue, peripheral, opts, read, log),
		Read:       read,
	}
	if central != nil {
		central.SetHandler(centralEvents{d})
	}
	if peripheral != nil {
		peripheral.SetHandler(peripheralEvents{d})
	}
	return d
}

func (d *Driver) run(ctx context.Context, fn func(ctx context.Context)) error {
	if err := d.queue.RunSync(ctx, fn); err != nil {
		if errors.Is(err, ErrQueueClosed) {
			return ErrShutdown
		}
		return err
	}
	return nil
}

// AddServiceAsync validates and registers the service, returning an Outcome
// that resolves once the hardware accepts or rejects the advertisement.
func (d *Driver) AddServiceAsync(ctx context.Context, u uuid.UUID, characteristics map[uuid.UUID][]byte) (outcome *Outcome, err error) {
	runErr := d.run(ctx, func(ctx context.Context) {
		outcome, err = d.advertiser.addService(u, characteristics)
	})
	if runErr != nil {
		err = runErr
	}
	return
}

func (d *Driver) AddService(ctx context.Context, u uuid.UUID, characteristics map[uuid.UUID][]byte) (err error) {
	outcome, err := d.AddServiceAsync(ctx, u, characteristics)
	if err != nil {
		return
	}
	return outcome.Wait(ctx)
}

func (d *Driver) RemoveService(ctx context.Context, u uuid.UUID) {
	d.run(ctx, func(ctx context.Context) {
		d.advertiser.removeService(u)
	})
}

func (d *Driver) ServiceCount(ctx context.Context) (count int) {
	d.run(ctx, func(ctx context.Context) {
		count = d.advertiser.schedule.len()
	})
	return
}

// Services returns the registered services in insertion order.
func (d *Driver) Services(ctx context.Context) (services []GATTService) {
	d.run(ctx, func(ctx context.Context) {
		for _, record := range d.advertiser.schedule.records {
			characteristics := map[uuid.UUID][]byte{}
			for u, value := range record.characteristics {
				characteristics[u] = append([]byte{}, value...)
			}
			services = append(services, GATTService{
				UUID:               record.uuid,
				Characteristics:    characteristics,
				DataCharacteristic: d.advertiser.dataChar,
			})
		}
	})
	return
}

func (d *Driver) AdvertisingState(ctx context.Context) (state AdvertisingState) {
	d.run(ctx, func(ctx context.Context) {
		state = d.advertiser.state
	})
	return
}

func (d *Driver) SetRotateDelay(ctx context.Context, delay time.Duration) (err error) {
	runErr := d.run(ctx, func(ctx context.Context) {
		err = d.advertiser.setRotateDelay(delay)
	})
	if runErr != nil {
		err = runErr
	}
	return
}

func (d *Driver) RotateDelay(ctx context.Context) (delay time.Duration) {
	d.run(ctx, func(ctx context.Context) {
		delay = d.advertiser.rotateDelay
	})
	return
}

func (d *Driver) WriteDataAsync(ctx context.Context, data []byte) (outcome *Outcome, err error) {
	runErr := d.run(ctx, func(ctx context.Context) {
		outcome, err = d.advertiser.writeData(data)
	})
	if runErr != nil {
		err = runErr
	}
	return
}

// WriteData returns once subscribers were notified. A write that had to wait
// for transmit space is replaced by any newer write and fails with ErrWriteSuperseded.
func (d *Driver) WriteData(ctx context.Context, data []byte) (err error) {
	outcome, err := d.WriteDataAsync(ctx, data)
	if err != nil {
		return
	}
	return outcome.Wait(ctx)
}

// StartScan delivers matching discoveries to handler until StopScan. With a
// non-empty uuids only those services match; otherwise a service matches when
// it equals base under mask.
func (d *Driver) StartScan(ctx context.Context, uuids []uuid.UUID, base, mask uuid.UUID, handler ScanHandler) (err error) {
	if handler == nil {
		return errors.New("scan handler cannot be nil")
	}
	runErr := d.run(ctx, func(ctx context.Context) {
		err = d.scanner.startScan(uuids, base, mask, handler)
	})
	if runErr != nil {
		err = runErr
	}
	return
}

func (d *Driver) StopScan(ctx context.Context) {
	d.run(ctx, func(ctx context.Context) {
		d.scanner.stopScan()
	})
}

func (d *Driver) LastSeen(ctx context.Context, u uuid.UUID) (event DiscoveryEvent, ok bool) {
	d.run(ctx, func(ctx context.Context) {
		event, ok = d.scanner.lastSeen(u)
	})
	return
}

func (d *Driver) DebugString(ctx context.Context) (debug string) {
	err := d.run(ctx, func(ctx context.Context) {
		debug = strings.Join([]string{
			d.advertiser.debugString(),
			d.scanner.debugString(),
		}, "\n")
	})
	if err != nil {
		debug = "driver shut down"
	}
	return
}

// Shutdown stops scanning and advertising, resolves outstanding operations
// with ErrShutdown and releases the hardware. Later calls are no-ops.
func (d *Driver) Shutdown() {
	d.stopOnce.Do(func() {
		d.shutdown(context.Background())
	})
}

// shutdown tears down on the queue, then stops the queue
func (d *Driver) shutdown(ctx context.Context) {
	d.run(ctx, func(ctx context.Context) {
		d.scanner.shutdown()
		d.advertiser.shutdown()
	})
	d.queue.Close()
	if d.central != nil {
		d.central.SetHandler(nil)
	}
	if d.peripheral != nil {
		d.peripheral.SetHandler(nil)
	}
	closed := map[interface{}]bool{}
	for _, hw := range []interface{}{d.central, d.peripheral} {
		if closer, ok := hw.(io.Closer); ok && !closed[hw] {
			closed[hw] = true
			if err := closer.Close(); err != nil {
				d.log.Error("closing bluetooth hardware:", err)
			}
		}
	}
	d.log.Notice("bluetooth driver shut down")
}

type centralEvents struct {
	d *Driver
}

func (e centralEvents) CentralStateChanged(state State) {
	e.d.queue.Async(func(ctx context.Context) {
		e.d.log.Info("central state", state)
		e.d.scanner.onPowerState(state)
	})
}

func (e centralEvents) PeripheralDiscovered(ad Advertisement) {
	e.d.queue.Async(func(ctx context.Context) {
		e.d.scanner.onDiscovered(ctx, ad)
	})
}

type peripheralEvents struct {
	d *Driver
}

func (e peripheralEvents) PeripheralStateChanged(state State) {
	e.d.queue.Async(func(ctx context.Context) {
		e.d.log.Info("peripheral state", state)
		e.d.advertiser.onPowerState(state)
	})
}

func (e peripheralEvents) AdvertisingStarted(err error) {
	e.d.queue.Async(func(ctx context.Context) {
		e.d.advertiser.onAdvertisingStarted(err)
	})
}

func (e peripheralEvents) ReadyToUpdateSubscribers() {
	e.d.queue.Async(func(ctx context.Context) {
		e.d.advertiser.flushWrite()
	})
}

func (e peripheralEvents) DataReceived(data []byte) {
	copied := append([]byte{}, data...)
	e.d.queue.Async(func(ctx context.Context) {
		e.d.advertiser.onDataReceived(copied)
	})
}

var (
	driverMu sync.Mutex
	driver   *Driver

	hardwareFactory HardwareFactory
	driverOptions   *Options
	driverLog       *logging.Logger
)

func SetHardwareFactory(factory HardwareFactory) {
	driverMu.Lock()
	defer driverMu.Unlock()
	hardwareFactory = factory
}

func SetOptions(opts *Options) {
	driverMu.Lock()
	defer driverMu.Unlock()
	driverOptions = opts
}

func SetLogger(logger *logging.Logger) {
	driverMu.Lock()
	defer driverMu.Unlock()
	driverLog = logger
}

// Instance returns the process-wide driver, creating it on first use. A
// hardware factory error leaves the driver without hardware, so every
// operation reports ErrUnsupportedHardware.
func Instance() *Driver {
	driverMu.Lock()
	defer driverMu.Unlock()
	if driver != nil {
		return driver
	}
	var central Central
	var peripheral Peripheral
	if hardwareFactory != nil {
		var err error
		central, peripheral, err = hardwareFactory()
		if err != nil {
			if driverLog != nil {
				driverLog.Error("opening bluetooth hardware:", err)
			}
			central, peripheral = nil, nil
		}
	}
	driver = New(central, peripheral, driverOptions, driverLog)
	return driver
}

// Shutdown stops scanning and advertising, resolves outstanding operations
// with ErrShutdown and releases the hardware. Instance builds a fresh driver
// afterwards. Calling it again is a no-op. Must not be called from a scan
// handler, which runs on the queue being shut down.
func Shutdown() {
	driverMu.Lock()
	d := driver
	driver = nil
	driverMu.Unlock()
	if d != nil {
		d.Shutdown()
	}
}
