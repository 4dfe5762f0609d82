//go:build !linux
// +build !linux

package bluez

import (
	"github.com/op/go-logging"
	"github.com/pkg/errors"

	"krypt.co/krbtle/btle"
)

func Hardware(name string, log *logging.Logger) (central btle.Central, peripheral btle.Peripheral, err error) {
	err = errors.Wrap(btle.ErrUnsupportedHardware, "bluez backend requires linux")
	return
}
