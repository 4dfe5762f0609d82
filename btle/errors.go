package btle

import (
	"github.com/pkg/errors"
)

var (
	ErrUnsupportedHardware = errors.New("bluetooth low energy is unsupported on this hardware")
	ErrUnauthorized        = errors.New("not authorized to use bluetooth low energy")
	ErrDuplicateService    = errors.New("service already added")
	ErrShutdown            = errors.New("bluetooth driver shut down")

	ErrScanInProgress     = errors.New("scan already in progress")
	ErrEmptyData          = errors.New("cannot write empty data")
	ErrDataTooLarge       = errors.New("data exceeds the maximum message size")
	ErrWriteSuperseded    = errors.New("write superseded by a newer write")
	ErrServiceRemoved     = errors.New("service removed before advertising started")
	ErrReentrantWait      = errors.New("cannot wait on a bluetooth outcome from the driver queue")
	ErrInvalidRotateDelay = errors.New("rotate delay must be positive")
	ErrQueueClosed        = errors.New("queue closed")
)

// rejection reported by the hardware after an advertise command
type AdvertisingError struct {
	error
}

func NewAdvertisingError(err error) *AdvertisingError {
	return &AdvertisingError{err}
}

func (err *AdvertisingError) Error() string {
	return "AdvertisingError: " + err.error.Error()
}

func (err *AdvertisingError) Unwrap() error {
	return err.error
}

// maps the hardware power state to the error an operation fails with, if any
func stateError(state State) error {
	switch state {
	case StateUnsupported:
		return ErrUnsupportedHardware
	case StateUnauthorized:
		return ErrUnauthorized
	}
	return nil
}
