// Package sim is an in-memory radio implementing both bluetooth roles. Tests
// drive it directly; krbtled uses it as the "sim" backend.
package sim

import (
	"sync"

	"github.com/satori/go.uuid"

	"krypt.co/krbtle/btle"
)

const LOOPBACK_RSSI = -42

type Radio struct {
	sync.Mutex

	centralHandler    btle.CentralHandler
	peripheralHandler btle.PeripheralHandler
	state             btle.State

	//	answer every advertise command immediately with AdvertiseErr
	AutoAccept   bool
	AdvertiseErr error
	//	report our own advertisements to our own scan
	Loopback bool

	scanErr        error
	ready          bool
	scanning       bool
	scanFilter     []uuid.UUID
	scanRequests   int
	advertising    bool
	services       []btle.GATTService
	advertised     [][]uuid.UUID
	notifications  [][]byte
	updateAttempts int
	closed         bool
}

func New() *Radio {
	return &Radio{
		AutoAccept: true,
		ready:      true,
	}
}

func (r *Radio) Hardware() (central btle.Central, peripheral btle.Peripheral, err error) {
	return Central{r}, Peripheral{r}, nil
}

func (r *Radio) handlers() (btle.CentralHandler, btle.PeripheralHandler) {
	r.Lock()
	defer r.Unlock()
	return r.centralHandler, r.peripheralHandler
}

func (r *Radio) SetState(state btle.State) {
	r.Lock()
	r.state = state
	if state != btle.StatePoweredOn {
		r.scanning = false
		r.advertising = false
		r.services = nil
	}
	r.Unlock()
	ch, ph := r.handlers()
	if ch != nil {
		ch.CentralStateChanged(state)
	}
	if ph != nil {
		ph.PeripheralStateChanged(state)
	}
}

func (r *Radio) PowerOn() {
	r.SetState(btle.StatePoweredOn)
}

func (r *Radio) PowerOff() {
	r.SetState(btle.StatePoweredOff)
}

func (r *Radio) State() btle.State {
	r.Lock()
	defer r.Unlock()
	return r.state
}

// Discover reports ad to the active scan, returning false when nothing is scanning.
func (r *Radio) Discover(ad btle.Advertisement) bool {
	r.Lock()
	active := r.scanning && r.state == btle.StatePoweredOn
	handler := r.centralHandler
	r.Unlock()
	if !active || handler == nil {
		return false
	}
	handler.PeripheralDiscovered(ad)
	return true
}

// AcceptAdvertising answers the outstanding advertise command when AutoAccept is off.
func (r *Radio) AcceptAdvertising(err error) {
	_, handler := r.handlers()
	if handler != nil {
		handler.AdvertisingStarted(err)
	}
}

// SetAdvertiseErr changes the answer to later advertise commands while the radio is in use.
func (r *Radio) SetAdvertiseErr(err error) {
	r.Lock()
	defer r.Unlock()
	r.AdvertiseErr = err
}

// SetScanErr makes later scan requests fail with err.
func (r *Radio) SetScanErr(err error) {
	r.Lock()
	defer r.Unlock()
	r.scanErr = err
}

// SetReady toggles transmit space; becoming ready signals the peripheral handler.
func (r *Radio) SetReady(ready bool) {
	r.Lock()
	r.ready = ready
	handler := r.peripheralHandler
	r.Unlock()
	if ready && handler != nil {
		handler.ReadyToUpdateSubscribers()
	}
}

// DeliverMessage plays the part of a remote central writing message in frames.
func (r *Radio) DeliverMessage(message []byte) {
	_, handler := r.handlers()
	if handler == nil {
		return
	}
	for _, frame := range btle.SplitMessage(message, btle.FRAME_BLOCK_SIZE) {
		handler.DataReceived(frame)
	}
}

func (r *Radio) Advertised() (history [][]uuid.UUID) {
	r.Lock()
	defer r.Unlock()
	for _, uuids := range r.advertised {
		history = append(history, append([]uuid.UUID{}, uuids...))
	}
	return
}

func (r *Radio) IsAdvertising() bool {
	r.Lock()
	defer r.Unlock()
	return r.advertising
}

func (r *Radio) Services() (services []btle.GATTService) {
	r.Lock()
	defer r.Unlock()
	return append(services, r.services...)
}

func (r *Radio) Notifications() (values [][]byte) {
	r.Lock()
	defer r.Unlock()
	for _, value := range r.notifications {
		values = append(values, append([]byte{}, value...))
	}
	return
}

func (r *Radio) UpdateAttempts() int {
	r.Lock()
	defer r.Unlock()
	return r.updateAttempts
}

func (r *Radio) IsScanning() bool {
	r.Lock()
	defer r.Unlock()
	return r.scanning
}

func (r *Radio) ScanRequests() int {
	r.Lock()
	defer r.Unlock()
	return r.scanRequests
}

func (r *Radio) Closed() bool {
	r.Lock()
	defer r.Unlock()
	return r.closed
}

func (r *Radio) Close() error {
	r.Lock()
	defer r.Unlock()
	r.closed = true
	r.scanning = false
	r.advertising = false
	return nil
}

type Central struct {
	*Radio
}

// a handler registered after the radio reported a state receives it immediately
func (c Central) SetHandler(h btle.CentralHandler) {
	c.Lock()
	c.centralHandler = h
	state := c.state
	c.Unlock()
	if h != nil && state != btle.StateUnknown {
		h.CentralStateChanged(state)
	}
}

func (c Central) Scan(serviceUUIDs []uuid.UUID) error {
	c.Lock()
	defer c.Unlock()
	c.scanRequests++
	if c.scanErr != nil {
		return c.scanErr
	}
	c.scanning = true
	c.scanFilter = append([]uuid.UUID{}, serviceUUIDs...)
	return nil
}

func (c Central) StopScan() {
	c.Lock()
	defer c.Unlock()
	c.scanning = false
	c.scanFilter = nil
}

type Peripheral struct {
	*Radio
}

func (p Peripheral) SetHandler(h btle.PeripheralHandler) {
	p.Lock()
	p.peripheralHandler = h
	state := p.state
	p.Unlock()
	if h != nil && state != btle.StateUnknown {
		h.PeripheralStateChanged(state)
	}
}

func (p Peripheral) SetServices(services []btle.GATTService) error {
	p.Lock()
	defer p.Unlock()
	p.services = append([]btle.GATTService{}, services...)
	return nil
}

func (p Peripheral) StartAdvertising(serviceUUIDs []uuid.UUID) error {
	p.Lock()
	p.advertised = append(p.advertised, append([]uuid.UUID{}, serviceUUIDs...))
	autoAccept, advertiseErr := p.AutoAccept, p.AdvertiseErr
	if autoAccept && advertiseErr == nil {
		p.advertising = true
	}
	handler := p.peripheralHandler
	loopback := p.Loopback && p.scanning
	p.Unlock()

	if autoAccept && handler != nil {
		handler.AdvertisingStarted(advertiseErr)
	}
	if loopback && advertiseErr == nil {
		p.Discover(btle.Advertisement{
			ServiceUUIDs: append([]uuid.UUID{}, serviceUUIDs...),
			RSSI:         LOOPBACK_RSSI,
		})
	}
	return nil
}

func (p Peripheral) StopAdvertising() {
	p.Lock()
	defer p.Unlock()
	p.advertising = false
}

func (p Peripheral) UpdateValue(characteristic uuid.UUID, value []byte) bool {
	p.Lock()
	defer p.Unlock()
	p.updateAttempts++
	if !p.ready || p.state != btle.StatePoweredOn {
		return false
	}
	p.notifications = append(p.notifications, append([]byte{}, value...))
	return true
}
