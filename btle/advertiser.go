package btle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/op/go-logging"
	"github.com/pkg/errors"
	"github.com/satori/go.uuid"
)

type AdvertisingState int

const (
	NotAdvertising AdvertisingState = iota
	Starting
	Advertising
)

func (s AdvertisingState) String() string {
	switch s {
	case Starting:
		return "Starting"
	case Advertising:
		return "Advertising"
	}
	return "NotAdvertising"
}

type pendingAdd struct {
	uuid    uuid.UUID
	outcome *Outcome
}

type pendingWrite struct {
	data    []byte
	outcome *Outcome
}

// All methods run on the driver queue.
type advertiser struct {
	log      *logging.Logger
	queue    *Queue
	hw       Peripheral
	dataChar uuid.UUID
	budget   int

	power      State
	state      AdvertisingState
	schedule   rotationSchedule
	advertised []uuid.UUID

	pendingAdds  []pendingAdd
	pendingWrite *pendingWrite

	rotateDelay time.Duration
	timer       *time.Timer
	timerGen    uint64
	rotations   uint64

	//	re-issues a rejected advertise command while services remain
	retry    *time.Timer
	retryGen uint64
	retries  uint64

	assembler messageAssembler
	read      chan []byte
	closed    bool
}

func newAdvertiser(queue *Queue, hw Peripheral, opts Options, read chan []byte, log *logging.Logger) *advertiser {
	return &advertiser{
		log:         log,
		queue:       queue,
		hw:          hw,
		dataChar:    opts.DataCharacteristicUUID,
		budget:      opts.ServicesPerCycle,
		rotateDelay: opts.RotateDelay,
		read:        read,
	}
}

func (a *advertiser) available() error {
	if a.closed {
		return ErrShutdown
	}
	if a.hw == nil {
		return ErrUnsupportedHardware
	}
	return stateError(a.power)
}

func (a *advertiser) addService(u uuid.UUID, characteristics map[uuid.UUID][]byte) (outcome *Outcome, err error) {
	if err = a.available(); err != nil {
		return
	}
	if a.schedule.find(u) >= 0 {
		err = errors.Wrap(ErrDuplicateService, u.String())
		return
	}
	copied := map[uuid.UUID][]byte{}
	for charUUID, value := range characteristics {
		copied[charUUID] = append([]byte{}, value...)
	}
	a.schedule.add(&serviceRecord{
		uuid:            u,
		characteristics: copied,
		addedAt:         time.Now(),
	})
	a.log.Notice("added service", u.String())
	a.publish()

	outcome = newOutcome(a.queue)
	a.pendingAdds = append(a.pendingAdds, pendingAdd{u, outcome})
	a.startAdvertising()
	return
}

func (a *advertiser) removeService(u uuid.UUID) {
	if a.closed || a.schedule.remove(u) == nil {
		return
	}
	a.log.Notice("removed service", u.String())
	wasAdvertised := containsUUID(a.advertised, u)

	remaining := a.pendingAdds[:0]
	for _, pending := range a.pendingAdds {
		if uuid.Equal(pending.uuid, u) {
			pending.outcome.resolve(ErrServiceRemoved)
			continue
		}
		remaining = append(remaining, pending)
	}
	a.pendingAdds = remaining
	a.publish()

	if a.schedule.len() == 0 {
		a.stopAdvertising()
		return
	}
	if wasAdvertised {
		a.startAdvertising()
	}
	a.updateRotation()
}

func (a *advertiser) stopAdvertising() {
	if a.hw != nil && a.state != NotAdvertising && a.power == StatePoweredOn {
		a.hw.StopAdvertising()
	}
	a.state = NotAdvertising
	a.advertised = nil
	a.stopRetry()
	a.updateRotation()
}

// (re)issues the advertise command for the head of the schedule, deferred until powered on
func (a *advertiser) startAdvertising() {
	if a.schedule.len() == 0 {
		return
	}
	if a.state == NotAdvertising {
		a.state = Starting
	}
	if a.power != StatePoweredOn {
		a.log.Info("advertising deferred until powered on")
		return
	}
	selection := a.schedule.selection(a.budget)
	a.advertised = selection
	if err := a.hw.StartAdvertising(selection); err != nil {
		a.onAdvertisingStarted(err)
	}
}

// GATT services are dropped by the hardware while powered off and republished on power on
func (a *advertiser) publish() {
	if a.hw == nil || a.power != StatePoweredOn {
		return
	}
	services := make([]GATTService, 0, a.schedule.len())
	for _, record := range a.schedule.records {
		services = append(services, GATTService{
			UUID:               record.uuid,
			Characteristics:    record.characteristics,
			DataCharacteristic: a.dataChar,
		})
	}
	if err := a.hw.SetServices(services); err != nil {
		a.log.Error("publishing GATT services:", err)
	}
}

// A rejection rolls back only the adds waiting on this command. Services
// accepted earlier stay scheduled and the command is retried after the
// rotate delay.
func (a *advertiser) onAdvertisingStarted(err error) {
	if a.closed {
		return
	}
	if err != nil {
		var advErr *AdvertisingError
		if !errors.As(err, &advErr) {
			advErr = &AdvertisingError{err}
		}
		a.log.Error("advertising failed:", err)
		pending := a.pendingAdds
		a.pendingAdds = nil
		for _, p := range pending {
			a.schedule.remove(p.uuid)
			p.outcome.resolve(advErr)
		}
		if len(pending) > 0 {
			a.publish()
		}
		a.advertised = nil
		if a.schedule.len() == 0 {
			a.state = NotAdvertising
			a.stopRetry()
			a.updateRotation()
			return
		}
		a.state = Starting
		a.updateRotation()
		a.armRetry()
		return
	}
	if a.state == NotAdvertising {
		//	acknowledgement of a command issued before the last service was removed
		return
	}
	if a.state != Advertising {
		a.log.Notice("advertising", len(a.advertised), "of", a.schedule.len(), "services")
	}
	a.state = Advertising
	a.stopRetry()
	pending := a.pendingAdds
	a.pendingAdds = nil
	for _, p := range pending {
		p.outcome.resolve(nil)
	}
	a.updateRotation()
}

func (a *advertiser) armRetry() {
	if a.retry != nil {
		return
	}
	a.retryGen++
	gen := a.retryGen
	a.retry = time.AfterFunc(a.rotateDelay, func() {
		a.queue.Async(func(ctx context.Context) {
			a.onRetry(gen)
		})
	})
}

func (a *advertiser) stopRetry() {
	if a.retry != nil {
		a.retry.Stop()
		a.retry = nil
	}
	a.retryGen++
}

func (a *advertiser) onRetry(gen uint64) {
	if gen != a.retryGen {
		return
	}
	a.retry = nil
	if a.closed || a.state != Starting || a.schedule.len() == 0 {
		return
	}
	a.retries++
	a.log.Info("retrying advertising for", a.schedule.len(), "services")
	a.startAdvertising()
}

func (a *advertiser) onPowerState(state State) {
	if a.closed {
		return
	}
	a.power = state
	if err := stateError(state); err != nil {
		a.log.Error("peripheral unavailable:", state)
		a.failPending(err)
		a.state = NotAdvertising
		a.advertised = nil
		a.stopRetry()
		a.updateRotation()
		return
	}
	switch state {
	case StatePoweredOn:
		if a.schedule.len() > 0 {
			a.publish()
			a.startAdvertising()
		}
		a.flushWrite()
	default:
		if a.state == Advertising {
			a.state = Starting
		}
		a.updateRotation()
	}
}

func (a *advertiser) failPending(err error) {
	pending := a.pendingAdds
	a.pendingAdds = nil
	for _, p := range pending {
		a.schedule.remove(p.uuid)
		p.outcome.resolve(err)
	}
	if a.pendingWrite != nil {
		a.pendingWrite.outcome.resolve(err)
		a.pendingWrite = nil
	}
}

func (a *advertiser) updateRotation() {
	running := a.timer != nil
	should := !a.closed && a.state == Advertising && a.schedule.len() > a.budget
	if should && !running {
		a.armRotation()
	} else if !should && running {
		a.stopRotation()
	}
}

func (a *advertiser) armRotation() {
	a.timerGen++
	gen := a.timerGen
	a.timer = time.AfterFunc(a.rotateDelay, func() {
		a.queue.Async(func(ctx context.Context) {
			a.onRotate(gen)
		})
	})
}

func (a *advertiser) stopRotation() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.timerGen++
}

func (a *advertiser) onRotate(gen uint64) {
	if gen != a.timerGen {
		return
	}
	a.timer = nil
	if a.state != Advertising || a.schedule.len() <= a.budget {
		return
	}
	a.schedule.rotate()
	a.rotations++
	a.log.Debug("rotating advertisement, head", a.schedule.order()[0].uuid.String())
	a.startAdvertising()
	a.updateRotation()
}

func (a *advertiser) setRotateDelay(delay time.Duration) (err error) {
	if delay <= 0 {
		err = ErrInvalidRotateDelay
		return
	}
	a.rotateDelay = delay
	if a.timer != nil {
		a.stopRotation()
		a.armRotation()
	}
	return
}

func (a *advertiser) writeData(data []byte) (outcome *Outcome, err error) {
	if len(data) == 0 {
		err = ErrEmptyData
		return
	}
	if len(data) > MAX_MESSAGE_SIZE {
		err = errors.Wrapf(ErrDataTooLarge, "%d bytes", len(data))
		return
	}
	if err = a.available(); err != nil {
		return
	}
	copied := append([]byte{}, data...)
	outcome = newOutcome(a.queue)
	if a.pendingWrite != nil {
		a.pendingWrite.outcome.resolve(ErrWriteSuperseded)
		a.pendingWrite = &pendingWrite{copied, outcome}
		return
	}
	if a.power == StatePoweredOn && a.hw.UpdateValue(a.dataChar, copied) {
		a.log.Info("wrote", len(copied), "bytes")
		outcome.resolve(nil)
		return
	}
	a.pendingWrite = &pendingWrite{copied, outcome}
	return
}

func (a *advertiser) flushWrite() {
	if a.closed || a.pendingWrite == nil || a.power != StatePoweredOn {
		return
	}
	if !a.hw.UpdateValue(a.dataChar, a.pendingWrite.data) {
		return
	}
	a.log.Info("wrote", len(a.pendingWrite.data), "bytes after retry")
	a.pendingWrite.outcome.resolve(nil)
	a.pendingWrite = nil
}

func (a *advertiser) onDataReceived(frame []byte) {
	if a.closed {
		return
	}
	message, complete := a.assembler.push(frame)
	if !complete {
		return
	}
	select {
	case a.read <- message:
		a.log.Info("received", len(message), "byte message over BLE")
	default:
		a.log.Warning("receive queue unavailable, dropping", len(message), "byte message")
	}
}

func (a *advertiser) shutdown() {
	if a.closed {
		return
	}
	if a.hw != nil && a.power == StatePoweredOn {
		if a.state != NotAdvertising {
			a.hw.StopAdvertising()
		}
		if a.schedule.len() > 0 {
			if err := a.hw.SetServices(nil); err != nil {
				a.log.Error("removing GATT services:", err)
			}
		}
	}
	a.failPending(ErrShutdown)
	a.schedule = rotationSchedule{}
	a.state = NotAdvertising
	a.advertised = nil
	a.closed = true
	a.stopRotation()
	a.stopRetry()
	close(a.read)
}

func (a *advertiser) debugString() string {
	order := []string{}
	for _, record := range a.schedule.order() {
		order = append(order, record.uuid.String())
	}
	return fmt.Sprintf("advertising: state=%s power=%s services=%d rotateDelay=%s perCycle=%d rotations=%d retries=%d pendingAdds=%d pendingWrite=%t\n  schedule=[%s]",
		a.state, a.power, a.schedule.len(), a.rotateDelay, a.budget, a.rotations, a.retries, len(a.pendingAdds), a.pendingWrite != nil,
		strings.Join(order, " "))
}

func containsUUID(uuids []uuid.UUID, u uuid.UUID) bool {
	for _, candidate := range uuids {
		if uuid.Equal(candidate, u) {
			return true
		}
	}
	return false
}
