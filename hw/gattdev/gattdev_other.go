//go:build !linux && !darwin
// +build !linux,!darwin

package gattdev

import (
	"github.com/op/go-logging"
	"github.com/pkg/errors"

	"krypt.co/krbtle/btle"
)

func Hardware(name string, log *logging.Logger) (central btle.Central, peripheral btle.Peripheral, err error) {
	err = errors.Wrap(btle.ErrUnsupportedHardware, "gatt backend requires linux or darwin")
	return
}
