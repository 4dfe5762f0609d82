package btle

import (
	"context"
	"fmt"

	"github.com/golang/groupcache/lru"
	"github.com/op/go-logging"
	"github.com/pkg/errors"
	"github.com/satori/go.uuid"
)

type DiscoveryEvent struct {
	UUID uuid.UUID
	//	nil when the advertisement carried none
	Characteristics map[uuid.UUID][]byte
	RSSI            int
}

// OnDiscovered runs on the driver queue: ctx lets the handler call back into
// the driver inline, and must not be retained after it returns.
type ScanHandler interface {
	OnDiscovered(ctx context.Context, event DiscoveryEvent)
}

type ScanHandlerFunc func(ctx context.Context, event DiscoveryEvent)

func (f ScanHandlerFunc) OnDiscovered(ctx context.Context, event DiscoveryEvent) {
	f(ctx, event)
}

const (
	minRSSI = -127
	maxRSSI = 0
)

// All methods run on the driver queue.
type scanner struct {
	log   *logging.Logger
	queue *Queue
	hw    Central

	power    State
	filter   *ScanFilter
	handler  ScanHandler
	scanning bool

	recent     *lru.Cache
	discovered uint64
	closed     bool
}

func newScanner(queue *Queue, hw Central, opts Options, log *logging.Logger) *scanner {
	return &scanner{
		log:    log,
		queue:  queue,
		hw:     hw,
		recent: lru.New(opts.RecentDiscoveries),
	}
}

func (s *scanner) startScan(uuids []uuid.UUID, base, mask uuid.UUID, handler ScanHandler) (err error) {
	if s.closed {
		return ErrShutdown
	}
	if s.hw == nil {
		return ErrUnsupportedHardware
	}
	if err = stateError(s.power); err != nil {
		return
	}
	if s.filter != nil {
		return ErrScanInProgress
	}
	filter := NewScanFilter(uuids, base, mask)
	s.filter = &filter
	s.handler = handler
	s.log.Notice("starting scan,", filter.String())
	if err = s.issueScan(); err != nil {
		s.filter = nil
		s.handler = nil
		err = errors.Wrap(err, "starting scan")
	}
	return
}

// a scan issued later by a power on has no caller left to report to, so that failure is only logged
func (s *scanner) issueScan() (err error) {
	if s.filter == nil || s.scanning {
		return
	}
	if s.power != StatePoweredOn {
		s.log.Info("scan deferred until powered on")
		return
	}
	if err = s.hw.Scan(s.filter.Explicit()); err != nil {
		s.log.Error("starting scan:", err)
		return
	}
	s.scanning = true
	return
}

func (s *scanner) stopScan() {
	if s.filter == nil {
		return
	}
	if s.scanning && s.hw != nil {
		s.hw.StopScan()
	}
	s.scanning = false
	s.filter = nil
	s.handler = nil
	s.log.Notice("stopped scan")
}

func (s *scanner) onPowerState(state State) {
	if s.closed {
		return
	}
	s.power = state
	switch state {
	case StatePoweredOn:
		s.issueScan()
	default:
		//	the hardware forgets scans across power cycles
		s.scanning = false
		if err := stateError(state); err != nil {
			s.log.Error("central unavailable:", state)
		}
	}
}

func (s *scanner) onDiscovered(ctx context.Context, ad Advertisement) {
	if s.closed || s.filter == nil || s.handler == nil {
		return
	}
	if ad.RSSI < minRSSI || ad.RSSI >= maxRSSI {
		s.log.Debug("dropping advertisement with invalid rssi", ad.RSSI)
		return
	}
	var characteristics map[uuid.UUID][]byte
	if len(ad.Characteristics) > 0 {
		characteristics = map[uuid.UUID][]byte{}
		for charUUID, value := range ad.Characteristics {
			characteristics[charUUID] = append([]byte{}, value...)
		}
	}
	delivered := map[uuid.UUID]bool{}
	for _, u := range ad.ServiceUUIDs {
		if delivered[u] || !s.filter.Matches(u) {
			continue
		}
		delivered[u] = true
		event := DiscoveryEvent{
			UUID:            u,
			Characteristics: characteristics,
			RSSI:            ad.RSSI,
		}
		s.discovered++
		s.recent.Add(u, event)
		handler := s.handler
		handler.OnDiscovered(ctx, event)
		if s.filter == nil {
			//	handler stopped the scan
			return
		}
	}
}

func (s *scanner) shutdown() {
	s.stopScan()
	s.recent.Clear()
	s.closed = true
}

func (s *scanner) lastSeen(u uuid.UUID) (event DiscoveryEvent, ok bool) {
	value, ok := s.recent.Get(u)
	if !ok {
		return
	}
	event = value.(DiscoveryEvent)
	return
}

func (s *scanner) debugString() string {
	filter := "none"
	if s.filter != nil {
		filter = s.filter.String()
	}
	return fmt.Sprintf("scanning: power=%s filter=%s active=%t discovered=%d recentServices=%d",
		s.power, filter, s.scanning, s.discovered, s.recent.Len())
}
