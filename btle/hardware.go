package btle

import (
	"github.com/satori/go.uuid"
)

type State int

const (
	StateUnknown State = iota
	StateResetting
	StateUnsupported
	StateUnauthorized
	StatePoweredOff
	StatePoweredOn
)

func (s State) String() string {
	switch s {
	case StateResetting:
		return "Resetting"
	case StateUnsupported:
		return "Unsupported"
	case StateUnauthorized:
		return "Unauthorized"
	case StatePoweredOff:
		return "PoweredOff"
	case StatePoweredOn:
		return "PoweredOn"
	}
	return "Unknown"
}

// one received advertisement, as reported by a Central
type Advertisement struct {
	ServiceUUIDs    []uuid.UUID
	Characteristics map[uuid.UUID][]byte
	RSSI            int
}

type GATTService struct {
	UUID            uuid.UUID
	Characteristics map[uuid.UUID][]byte
	//	notify/write characteristic, zero when the service has none
	DataCharacteristic uuid.UUID
}

// Implementations may call handler methods from any goroutine, including
// synchronously from inside a command.
type CentralHandler interface {
	CentralStateChanged(state State)
	PeripheralDiscovered(ad Advertisement)
}

// Scan and StopScan are asynchronous commands; results arrive through the handler.
type Central interface {
	SetHandler(h CentralHandler)
	//	empty serviceUUIDs requests every advertisement
	Scan(serviceUUIDs []uuid.UUID) error
	StopScan()
}

type PeripheralHandler interface {
	PeripheralStateChanged(state State)
	//	nil err means the hardware accepted the last advertise command
	AdvertisingStarted(err error)
	ReadyToUpdateSubscribers()
	//	raw value written by a remote central to a data characteristic
	DataReceived(data []byte)
}

type Peripheral interface {
	SetHandler(h PeripheralHandler)
	SetServices(services []GATTService) error
	StartAdvertising(serviceUUIDs []uuid.UUID) error
	StopAdvertising()
	//	false when the transmit queue is full, retry after ReadyToUpdateSubscribers
	UpdateValue(characteristic uuid.UUID, value []byte) bool
}

type HardwareFactory func() (central Central, peripheral Peripheral, err error)
