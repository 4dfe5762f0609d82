package gattdev

import (
	"github.com/paypal/gatt"
)

// CoreBluetooth splits the roles into a central and a peripheral manager
func openDevices() (central, peripheral gatt.Device, err error) {
	central, err = gatt.NewDevice(gatt.MacDeviceRole(gatt.CentralManager))
	if err != nil {
		return
	}
	peripheral, err = gatt.NewDevice(gatt.MacDeviceRole(gatt.PeripheralManager))
	return
}
