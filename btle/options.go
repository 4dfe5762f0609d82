package btle

import (
	"time"

	"github.com/satori/go.uuid"
)

type Options struct {
	RotateDelay time.Duration
	//	advertisement payload budget: 128-bit uuids per advertising cycle
	ServicesPerCycle       int
	DataCharacteristicUUID uuid.UUID
	RecentDiscoveries      int
	ReadBufferSize         int
}

func DefaultOptions() Options {
	return Options{
		RotateDelay:            time.Second,
		ServicesPerCycle:       1,
		DataCharacteristicUUID: DataCharacteristicUUID,
		RecentDiscoveries:      32,
		ReadBufferSize:         2048,
	}
}

func (o Options) normalized() Options {
	defaults := DefaultOptions()
	if o.RotateDelay <= 0 {
		o.RotateDelay = defaults.RotateDelay
	}
	if o.ServicesPerCycle < 1 {
		o.ServicesPerCycle = defaults.ServicesPerCycle
	}
	if uuid.Equal(o.DataCharacteristicUUID, uuid.Nil) {
		o.DataCharacteristicUUID = defaults.DataCharacteristicUUID
	}
	if o.RecentDiscoveries < 1 {
		o.RecentDiscoveries = defaults.RecentDiscoveries
	}
	if o.ReadBufferSize < 0 {
		o.ReadBufferSize = defaults.ReadBufferSize
	}
	return o
}
