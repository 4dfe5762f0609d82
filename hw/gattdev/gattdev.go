//go:build linux || darwin
// +build linux darwin

// Package gattdev drives a local radio through github.com/paypal/gatt:
// raw HCI on linux, XPC to blued on darwin.
package gattdev

import (
	"sync"

	"github.com/op/go-logging"
	"github.com/paypal/gatt"
	"github.com/pkg/errors"
	"github.com/satori/go.uuid"

	"krypt.co/krbtle/btle"
)

type radio struct {
	sync.Mutex
	log  *logging.Logger
	name string

	central    gatt.Device
	peripheral gatt.Device

	centralHandler    btle.CentralHandler
	peripheralHandler btle.PeripheralHandler
	centralState      btle.State
	peripheralState   btle.State

	//	subscribed centrals per data characteristic
	notifiers map[uuid.UUID][]gatt.Notifier
	closed    bool
}

// Hardware opens the platform's gatt devices. name is the local name
// sent alongside advertised services.
func Hardware(name string, log *logging.Logger) (central btle.Central, peripheral btle.Peripheral, err error) {
	centralDevice, peripheralDevice, err := openDevices()
	if err != nil {
		err = errors.Wrap(btle.ErrUnsupportedHardware, err.Error())
		return
	}
	r := &radio{
		log:        log,
		name:       name,
		central:    centralDevice,
		peripheral: peripheralDevice,
		notifiers:  map[uuid.UUID][]gatt.Notifier{},
	}
	r.central.Handle(gatt.PeripheralDiscovered(r.onPeripheralDiscovered))
	if err = r.central.Init(r.onStateChanged); err != nil {
		err = errors.Wrap(btle.ErrUnsupportedHardware, err.Error())
		return
	}
	if r.peripheral != r.central {
		if err = r.peripheral.Init(r.onStateChanged); err != nil {
			err = errors.Wrap(btle.ErrUnsupportedHardware, err.Error())
			return
		}
	}
	central, peripheral = Central{r}, Peripheral{r}
	return
}

func toState(s gatt.State) btle.State {
	switch s {
	case gatt.StateResetting:
		return btle.StateResetting
	case gatt.StateUnsupported:
		return btle.StateUnsupported
	case gatt.StateUnauthorized:
		return btle.StateUnauthorized
	case gatt.StatePoweredOff:
		return btle.StatePoweredOff
	case gatt.StatePoweredOn:
		return btle.StatePoweredOn
	}
	return btle.StateUnknown
}

// on linux one device plays both roles and reports to both handlers
func (r *radio) onStateChanged(d gatt.Device, s gatt.State) {
	state := toState(s)
	r.Lock()
	var centralHandler btle.CentralHandler
	var peripheralHandler btle.PeripheralHandler
	if d == r.central {
		r.centralState = state
		centralHandler = r.centralHandler
	}
	if d == r.peripheral {
		r.peripheralState = state
		peripheralHandler = r.peripheralHandler
		if state != btle.StatePoweredOn {
			r.notifiers = map[uuid.UUID][]gatt.Notifier{}
		}
	}
	r.Unlock()
	r.log.Info("gatt device state", state)
	if centralHandler != nil {
		centralHandler.CentralStateChanged(state)
	}
	if peripheralHandler != nil {
		peripheralHandler.PeripheralStateChanged(state)
	}
}

func fromGattUUID(u gatt.UUID) (parsed uuid.UUID, ok bool) {
	parsed, err := uuid.FromString(u.String())
	ok = err == nil
	return
}

func toGattUUIDs(uuids []uuid.UUID) (gattUUIDs []gatt.UUID) {
	for _, u := range uuids {
		gattUUIDs = append(gattUUIDs, gatt.MustParseUUID(u.String()))
	}
	return
}

// 16 and 32 bit uuids never match a 128 bit filter and are skipped
func (r *radio) onPeripheralDiscovered(p gatt.Peripheral, a *gatt.Advertisement, rssi int) {
	r.Lock()
	handler := r.centralHandler
	r.Unlock()
	if handler == nil || a == nil {
		return
	}
	ad := btle.Advertisement{RSSI: rssi}
	for _, u := range append(append([]gatt.UUID{}, a.Services...), a.OverflowService...) {
		if parsed, ok := fromGattUUID(u); ok {
			ad.ServiceUUIDs = append(ad.ServiceUUIDs, parsed)
		}
	}
	for _, data := range a.ServiceData {
		parsed, ok := fromGattUUID(data.UUID)
		if !ok {
			continue
		}
		if ad.Characteristics == nil {
			ad.Characteristics = map[uuid.UUID][]byte{}
		}
		ad.Characteristics[parsed] = append([]byte{}, data.Data...)
	}
	if len(ad.ServiceUUIDs) == 0 {
		return
	}
	handler.PeripheralDiscovered(ad)
}

func (r *radio) Close() (err error) {
	r.Lock()
	defer r.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.central.StopScanning()
	if err = r.peripheral.StopAdvertising(); err != nil {
		r.log.Warning("stopping advertising:", err)
	}
	err = r.peripheral.RemoveAllServices()
	r.notifiers = map[uuid.UUID][]gatt.Notifier{}
	return
}

type Central struct {
	*radio
}

func (c Central) SetHandler(h btle.CentralHandler) {
	c.Lock()
	c.centralHandler = h
	state := c.centralState
	c.Unlock()
	if h != nil && state != btle.StateUnknown {
		h.CentralStateChanged(state)
	}
}

func (c Central) Scan(serviceUUIDs []uuid.UUID) (err error) {
	c.Lock()
	defer c.Unlock()
	if c.closed {
		return btle.ErrShutdown
	}
	c.central.Scan(toGattUUIDs(serviceUUIDs), true)
	return
}

func (c Central) StopScan() {
	c.Lock()
	defer c.Unlock()
	if c.closed {
		return
	}
	c.central.StopScanning()
}

type Peripheral struct {
	*radio
}

func (p Peripheral) SetHandler(h btle.PeripheralHandler) {
	p.Lock()
	p.peripheralHandler = h
	state := p.peripheralState
	p.Unlock()
	if h != nil && state != btle.StateUnknown {
		h.PeripheralStateChanged(state)
	}
}

func (p Peripheral) SetServices(services []btle.GATTService) (err error) {
	p.Lock()
	defer p.Unlock()
	if p.closed {
		return btle.ErrShutdown
	}
	var gattServices []*gatt.Service
	for _, service := range services {
		s := gatt.NewService(gatt.MustParseUUID(service.UUID.String()))
		for charUUID, value := range service.Characteristics {
			s.AddCharacteristic(gatt.MustParseUUID(charUUID.String())).SetValue(value)
		}
		if !uuid.Equal(service.DataCharacteristic, uuid.Nil) {
			p.addDataCharacteristic(s, service.DataCharacteristic)
		}
		gattServices = append(gattServices, s)
	}
	p.notifiers = map[uuid.UUID][]gatt.Notifier{}
	err = p.peripheral.SetServices(gattServices)
	return
}

func (p Peripheral) addDataCharacteristic(s *gatt.Service, dataUUID uuid.UUID) {
	c := s.AddCharacteristic(gatt.MustParseUUID(dataUUID.String()))
	c.HandleWriteFunc(func(r gatt.Request, data []byte) (status byte) {
		p.Lock()
		handler := p.peripheralHandler
		p.Unlock()
		if handler != nil {
			handler.DataReceived(data)
		}
		return gatt.StatusSuccess
	})
	c.HandleNotifyFunc(func(r gatt.Request, n gatt.Notifier) {
		p.Lock()
		p.notifiers[dataUUID] = append(p.notifiers[dataUUID], n)
		handler := p.peripheralHandler
		p.Unlock()
		p.log.Info("central subscribed to", dataUUID)
		if handler != nil {
			handler.ReadyToUpdateSubscribers()
		}
	})
}

func (p Peripheral) StartAdvertising(serviceUUIDs []uuid.UUID) (err error) {
	p.Lock()
	if p.closed {
		p.Unlock()
		return btle.ErrShutdown
	}
	handler := p.peripheralHandler
	p.Unlock()
	gattUUIDs := toGattUUIDs(serviceUUIDs)
	go func() {
		err := p.peripheral.AdvertiseNameAndServices(p.name, gattUUIDs)
		if handler != nil {
			handler.AdvertisingStarted(err)
		}
	}()
	return
}

func (p Peripheral) StopAdvertising() {
	if err := p.peripheral.StopAdvertising(); err != nil {
		p.log.Warning("stopping advertising:", err)
	}
}

// UpdateValue notifies every live subscriber, framing value to fit each
// central's notification size.
func (p Peripheral) UpdateValue(characteristic uuid.UUID, value []byte) bool {
	p.Lock()
	defer p.Unlock()
	if p.closed || p.peripheralState != btle.StatePoweredOn {
		return false
	}
	var live []gatt.Notifier
	for _, n := range p.notifiers[characteristic] {
		if !n.Done() {
			live = append(live, n)
		}
	}
	p.notifiers[characteristic] = live
	if len(live) == 0 {
		return false
	}
	sent := false
	for _, n := range live {
		blockSize := n.Cap() - 1
		if blockSize > btle.FRAME_BLOCK_SIZE || blockSize <= 0 {
			blockSize = btle.FRAME_BLOCK_SIZE
		}
		frames := btle.SplitMessage(value, blockSize)
		if frames == nil {
			p.log.Warning("value of", len(value), "bytes does not fit", btle.MAX_FRAMES, "frames of", blockSize, "bytes")
			continue
		}
		failed := false
		for _, frame := range frames {
			if _, err := n.Write(frame); err != nil {
				p.log.Warning("notify failed:", err)
				failed = true
				break
			}
		}
		sent = sent || !failed
	}
	return sent
}
