//go:build linux
// +build linux

// Package bluez drives the system adapter over BlueZ D-Bus with
// tinygo.org/x/bluetooth, sharing the radio with bluetoothd.
package bluez

import (
	"sync"
	"time"

	"github.com/op/go-logging"
	"github.com/pkg/errors"
	"github.com/satori/go.uuid"
	"tinygo.org/x/bluetooth"

	"krypt.co/krbtle/btle"
)

const WRITE_RETRY_DELAY = 100 * time.Millisecond

type radio struct {
	sync.Mutex
	log     *logging.Logger
	name    string
	adapter *bluetooth.Adapter
	state   btle.State

	centralHandler    btle.CentralHandler
	peripheralHandler btle.PeripheralHandler

	scanning    bool
	scanGen     int
	scanFilter  []bluetooth.UUID
	advertising bool
	//	BlueZ cannot unregister a GATT service, so services accumulate
	registered map[uuid.UUID]bool
	dataChars  map[uuid.UUID][]*bluetooth.Characteristic
	retry      *time.Timer
	closed     bool
}

func Hardware(name string, log *logging.Logger) (central btle.Central, peripheral btle.Peripheral, err error) {
	r := &radio{
		log:        log,
		name:       name,
		adapter:    bluetooth.DefaultAdapter,
		state:      btle.StatePoweredOn,
		registered: map[uuid.UUID]bool{},
		dataChars:  map[uuid.UUID][]*bluetooth.Characteristic{},
	}
	if err = r.adapter.Enable(); err != nil {
		err = errors.Wrap(btle.ErrUnsupportedHardware, err.Error())
		return
	}
	central, peripheral = Central{r}, Peripheral{r}
	return
}

func toBluetoothUUID(u uuid.UUID) bluetooth.UUID {
	parsed, _ := bluetooth.ParseUUID(u.String())
	return parsed
}

func fromBluetoothUUID(u bluetooth.UUID) (parsed uuid.UUID, ok bool) {
	parsed, err := uuid.FromString(u.String())
	ok = err == nil
	return
}

type serviceUUIDLister interface {
	ServiceUUIDs() []bluetooth.UUID
}

func (r *radio) onScanResult(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
	r.Lock()
	handler := r.centralHandler
	filter := r.scanFilter
	scanning := r.scanning
	r.Unlock()
	if handler == nil || !scanning {
		return
	}
	var found []bluetooth.UUID
	if lister, ok := result.AdvertisementPayload.(serviceUUIDLister); ok {
		found = lister.ServiceUUIDs()
	} else {
		for _, u := range filter {
			if result.HasServiceUUID(u) {
				found = append(found, u)
			}
		}
	}
	ad := btle.Advertisement{RSSI: int(result.RSSI)}
	for _, u := range found {
		if parsed, ok := fromBluetoothUUID(u); ok {
			ad.ServiceUUIDs = append(ad.ServiceUUIDs, parsed)
		}
	}
	if len(ad.ServiceUUIDs) == 0 {
		return
	}
	handler.PeripheralDiscovered(ad)
}

func (r *radio) Close() (err error) {
	r.Lock()
	if r.closed {
		r.Unlock()
		return
	}
	r.closed = true
	scanning, advertising := r.scanning, r.advertising
	r.scanning, r.advertising = false, false
	if r.retry != nil {
		r.retry.Stop()
	}
	r.Unlock()
	if scanning {
		if stopErr := r.adapter.StopScan(); stopErr != nil {
			r.log.Warning("stopping scan:", stopErr)
		}
	}
	if advertising {
		err = r.adapter.DefaultAdvertisement().Stop()
	}
	return
}

type Central struct {
	*radio
}

func (c Central) SetHandler(h btle.CentralHandler) {
	c.Lock()
	c.centralHandler = h
	state := c.state
	c.Unlock()
	if h != nil {
		h.CentralStateChanged(state)
	}
}

// Scan replaces any running scan. Results are filtered against
// serviceUUIDs again by the driver.
func (c Central) Scan(serviceUUIDs []uuid.UUID) (err error) {
	c.Lock()
	if c.closed {
		c.Unlock()
		return btle.ErrShutdown
	}
	c.scanFilter = nil
	for _, u := range serviceUUIDs {
		c.scanFilter = append(c.scanFilter, toBluetoothUUID(u))
	}
	if c.scanning {
		c.Unlock()
		return
	}
	c.scanning = true
	c.scanGen++
	gen := c.scanGen
	c.Unlock()
	go func() {
		if err := c.adapter.Scan(c.onScanResult); err != nil {
			c.log.Error("bluez scan:", err)
		}
		c.Lock()
		if c.scanGen == gen {
			c.scanning = false
		}
		c.Unlock()
	}()
	return
}

func (c Central) StopScan() {
	c.Lock()
	scanning := c.scanning
	c.scanning = false
	c.scanGen++
	c.Unlock()
	if !scanning {
		return
	}
	if err := c.adapter.StopScan(); err != nil {
		c.log.Warning("stopping scan:", err)
	}
}

type Peripheral struct {
	*radio
}

func (p Peripheral) SetHandler(h btle.PeripheralHandler) {
	p.Lock()
	p.peripheralHandler = h
	state := p.state
	p.Unlock()
	if h != nil {
		h.PeripheralStateChanged(state)
	}
}

func (p Peripheral) SetServices(services []btle.GATTService) (err error) {
	p.Lock()
	defer p.Unlock()
	if p.closed {
		return btle.ErrShutdown
	}
	for _, service := range services {
		if p.registered[service.UUID] {
			continue
		}
		s := &bluetooth.Service{UUID: toBluetoothUUID(service.UUID)}
		for charUUID, value := range service.Characteristics {
			s.Characteristics = append(s.Characteristics, bluetooth.CharacteristicConfig{
				UUID:  toBluetoothUUID(charUUID),
				Value: value,
				Flags: bluetooth.CharacteristicReadPermission,
			})
		}
		var dataChar *bluetooth.Characteristic
		if !uuid.Equal(service.DataCharacteristic, uuid.Nil) {
			dataChar = &bluetooth.Characteristic{}
			s.Characteristics = append(s.Characteristics, bluetooth.CharacteristicConfig{
				Handle: dataChar,
				UUID:   toBluetoothUUID(service.DataCharacteristic),
				Flags: bluetooth.CharacteristicNotifyPermission |
					bluetooth.CharacteristicWritePermission |
					bluetooth.CharacteristicWriteWithoutResponsePermission,
				WriteEvent: p.onWrite,
			})
		}
		if err = p.adapter.AddService(s); err != nil {
			err = errors.Wrapf(err, "registering service %s", service.UUID)
			return
		}
		p.registered[service.UUID] = true
		if dataChar != nil {
			p.dataChars[service.DataCharacteristic] = append(p.dataChars[service.DataCharacteristic], dataChar)
		}
	}
	return
}

func (p Peripheral) onWrite(client bluetooth.Connection, offset int, value []byte) {
	p.Lock()
	handler := p.peripheralHandler
	p.Unlock()
	if handler != nil && offset == 0 {
		handler.DataReceived(value)
	}
}

func (p Peripheral) StartAdvertising(serviceUUIDs []uuid.UUID) (err error) {
	p.Lock()
	if p.closed {
		p.Unlock()
		return btle.ErrShutdown
	}
	handler := p.peripheralHandler
	wasAdvertising := p.advertising
	p.advertising = true
	p.Unlock()

	var advertised []bluetooth.UUID
	for _, u := range serviceUUIDs {
		advertised = append(advertised, toBluetoothUUID(u))
	}
	go func() {
		adv := p.adapter.DefaultAdvertisement()
		if wasAdvertising {
			adv.Stop()
		}
		err := adv.Configure(bluetooth.AdvertisementOptions{
			LocalName:    p.name,
			ServiceUUIDs: advertised,
		})
		if err == nil {
			err = adv.Start()
		}
		if err != nil {
			p.Lock()
			p.advertising = false
			p.Unlock()
		}
		if handler != nil {
			handler.AdvertisingStarted(err)
		}
	}()
	return
}

func (p Peripheral) StopAdvertising() {
	p.Lock()
	advertising := p.advertising
	p.advertising = false
	p.Unlock()
	if !advertising {
		return
	}
	if err := p.adapter.DefaultAdvertisement().Stop(); err != nil {
		p.log.Warning("stopping advertising:", err)
	}
}

// a failed notification schedules ReadyToUpdateSubscribers, since BlueZ
// never reports transmit space
func (p Peripheral) UpdateValue(characteristic uuid.UUID, value []byte) bool {
	p.Lock()
	defer p.Unlock()
	if p.closed {
		return false
	}
	chars := p.dataChars[characteristic]
	if len(chars) == 0 {
		return false
	}
	for _, c := range chars {
		for _, frame := range btle.SplitMessage(value, btle.FRAME_BLOCK_SIZE) {
			if _, err := c.Write(frame); err != nil {
				p.log.Warning("notify failed:", err)
				p.scheduleRetry()
				return false
			}
		}
	}
	return true
}

func (p Peripheral) scheduleRetry() {
	if p.retry != nil {
		p.retry.Stop()
	}
	p.retry = time.AfterFunc(WRITE_RETRY_DELAY, func() {
		p.Lock()
		handler := p.peripheralHandler
		closed := p.closed
		p.Unlock()
		if handler != nil && !closed {
			handler.ReadyToUpdateSubscribers()
		}
	})
}
