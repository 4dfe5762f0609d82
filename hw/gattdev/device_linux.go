package gattdev

import (
	"github.com/paypal/gatt"
)

// one HCI device serves both roles
func openDevices() (central, peripheral gatt.Device, err error) {
	d, err := gatt.NewDevice(
		gatt.LnxMaxConnections(1),
		gatt.LnxDeviceID(-1, true),
	)
	if err != nil {
		return
	}
	central, peripheral = d, d
	return
}
