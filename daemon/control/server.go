package control

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"

	"github.com/op/go-logging"

	"krypt.co/krbtle/boundary"
	"krypt.co/krbtle/btle"
	. "krypt.co/krbtle/common/persistance"
	"krypt.co/krbtle/common/version"
)

const DISCOVERY_REPLAY = 64

type ControlServer struct {
	adapter   boundary.Adapter
	persister Persister
	log       *logging.Logger

	discoveries *eventHub
	messages    *eventHub

	mu     sync.Mutex
	pumped *btle.Driver
}

// persister may be nil to run without saved state
func NewControlServer(adapter boundary.Adapter, persister Persister, log *logging.Logger) *ControlServer {
	return &ControlServer{
		adapter:     adapter,
		persister:   persister,
		log:         log,
		discoveries: newEventHub(DISCOVERY_REPLAY),
		messages:    newEventHub(0),
	}
}

func (cs *ControlServer) HandleControlHTTP(listener net.Listener) (err error) {
	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/version", cs.handleVersion)
	httpMux.HandleFunc("/ping", cs.handlePing)
	httpMux.HandleFunc("/advertise", cs.handleAdvertise)
	httpMux.HandleFunc("/write", cs.handleWrite)
	httpMux.HandleFunc("/rotate", cs.handleRotate)
	httpMux.HandleFunc("/scan", cs.handleScan)
	httpMux.HandleFunc("/scan/events", cs.handleScanEvents)
	httpMux.HandleFunc("/scan/seen", cs.handleScanSeen)
	httpMux.HandleFunc("/data/events", cs.handleDataEvents)
	httpMux.HandleFunc("/debug", cs.handleDebug)
	httpMux.HandleFunc("/shutdown", cs.handleShutdown)
	err = http.Serve(listener, httpMux)
	return
}

// driver returns the live driver, forwarding its received messages to /data/events
func (cs *ControlServer) driver() (d *btle.Driver) {
	d = cs.adapter.Driver()
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.pumped != d {
		cs.pumped = d
		go cs.pumpMessages(d)
	}
	return
}

func (cs *ControlServer) pumpMessages(d *btle.Driver) {
	for message := range d.Read {
		line, err := json.Marshal(ReceivedMessage{Data: message})
		if err != nil {
			cs.log.Error(err)
			continue
		}
		cs.messages.publish("", append(line, '\n'))
	}
}

// Start restores saved services and rotate delay. Adds complete in the
// background since they wait for the radio.
func (cs *ControlServer) Start() (err error) {
	cs.driver()
	if cs.persister == nil {
		return
	}
	state, err := cs.persister.LoadState()
	if err == ErrNoState {
		err = nil
		return
	}
	if err != nil {
		return
	}
	ctx := context.Background()
	if state.RotateDelaySeconds > 0 {
		if result := cs.adapter.SetAdRotateDelaySeconds(ctx, state.RotateDelaySeconds); !result.OK {
			cs.log.Error("restoring rotate delay:", result.Message)
		}
	}
	for _, service := range state.Services {
		service := service
		go func() {
			result := cs.adapter.AddService(ctx, service.UUID, service.Characteristics)
			if !result.OK {
				cs.log.Error("restoring service", service.UUID+":", result.Message)
				return
			}
			cs.log.Notice("restored service", service.UUID)
		}()
	}
	cs.log.Notice("restoring", len(state.Services), "services")
	return
}

func (cs *ControlServer) Stop() {
	cs.discoveries.close()
	cs.messages.close()
}

func (cs *ControlServer) persist(ctx context.Context) {
	if cs.persister == nil {
		return
	}
	d := cs.driver()
	state := DriverState{
		RotateDelaySeconds: d.RotateDelay(ctx).Seconds(),
	}
	for _, service := range d.Services(ctx) {
		persisted := PersistedService{UUID: service.UUID.String()}
		if len(service.Characteristics) > 0 {
			persisted.Characteristics = map[string][]byte{}
			for u, value := range service.Characteristics {
				persisted.Characteristics[u.String()] = value
			}
		}
		state.Services = append(state.Services, persisted)
	}
	if err := cs.persister.SaveState(state); err != nil {
		cs.log.Error("saving driver state:", err)
	}
}

func (cs *ControlServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(version.CURRENT_VERSION.String()))
}

func (cs *ControlServer) handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func resultStatus(result boundary.Result) int {
	if result.OK || result.Error == nil {
		return http.StatusOK
	}
	switch *result.Error {
	case boundary.InvalidArgumentError:
		return http.StatusBadRequest
	case boundary.DuplicateServiceError, boundary.ScanInProgressError:
		return http.StatusConflict
	case boundary.UnsupportedHardwareError, boundary.UnauthorizedError, boundary.ShutdownError:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (cs *ControlServer) writeResult(w http.ResponseWriter, result boundary.Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resultStatus(result))
	if err := json.NewEncoder(w).Encode(result); err != nil {
		cs.log.Error(err)
	}
}

func (cs *ControlServer) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		cs.log.Error(err)
	}
}

func (cs *ControlServer) handleAdvertise(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cs.driver()
		cs.writeJSON(w, CountResponse{cs.adapter.AdvertisingServiceCount(r.Context())})
	case http.MethodPut:
		cs.handlePutAdvertise(w, r)
	case http.MethodDelete:
		cs.handleDeleteAdvertise(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// blocks until the radio accepts or rejects the advertisement
func (cs *ControlServer) handlePutAdvertise(w http.ResponseWriter, r *http.Request) {
	var request AddServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	cs.driver()
	result := cs.adapter.AddService(r.Context(), request.UUID, request.Characteristics)
	if result.OK {
		cs.persist(r.Context())
	} else {
		cs.log.Error("adding service", request.UUID+":", result.Message)
	}
	cs.writeResult(w, result)
}

func (cs *ControlServer) handleDeleteAdvertise(w http.ResponseWriter, r *http.Request) {
	var request RemoveServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	cs.driver()
	cs.adapter.RemoveService(r.Context(), request.UUID)
	cs.persist(r.Context())
	w.WriteHeader(http.StatusOK)
}

func (cs *ControlServer) handleWrite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var request WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	cs.driver()
	cs.writeResult(w, cs.adapter.WriteData(r.Context(), request.Data))
}

func (cs *ControlServer) handleRotate(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cs.writeJSON(w, RotateRequest{cs.driver().RotateDelay(r.Context()).Seconds()})
	case http.MethodPut:
		var request RotateRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		cs.driver()
		result := cs.adapter.SetAdRotateDelaySeconds(r.Context(), request.Seconds)
		if result.OK {
			cs.persist(r.Context())
		}
		cs.writeResult(w, result)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (cs *ControlServer) handleScan(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPut:
		var request ScanRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		cs.driver()
		cs.discoveries.clearRecent()
		result := cs.adapter.StartScan(r.Context(), request.UUIDs, request.Base, request.Mask, cs.onDiscovery)
		cs.writeResult(w, result)
	case http.MethodDelete:
		cs.driver()
		cs.adapter.StopScan(r.Context())
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// runs on the driver queue
func (cs *ControlServer) onDiscovery(discovery boundary.Discovery) {
	line, err := json.Marshal(discovery)
	if err != nil {
		cs.log.Error(err)
		return
	}
	cs.discoveries.publish(discovery.UUID, append(line, '\n'))
}

func (cs *ControlServer) handleScanEvents(w http.ResponseWriter, r *http.Request) {
	cs.stream(w, r, cs.discoveries)
}

func (cs *ControlServer) handleDataEvents(w http.ResponseWriter, r *http.Request) {
	cs.driver()
	cs.stream(w, r, cs.messages)
}

// newline-delimited JSON until the client disconnects or the server stops
func (cs *ControlServer) stream(w http.ResponseWriter, r *http.Request, hub *eventHub) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	events, replay := hub.subscribe()
	defer hub.unsubscribe(events)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	for _, line := range replay {
		w.Write(line)
	}
	flusher.Flush()
	for {
		select {
		case line, ok := <-events:
			if !ok {
				return
			}
			if _, err := w.Write(line); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (cs *ControlServer) handleScanSeen(w http.ResponseWriter, r *http.Request) {
	u, err := btle.ParseUUID(r.URL.Query().Get("uuid"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	event, ok := cs.driver().LastSeen(r.Context(), u)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	cs.writeJSON(w, boundary.NewDiscovery(event))
}

func (cs *ControlServer) handleDebug(w http.ResponseWriter, r *http.Request) {
	cs.driver()
	w.Write([]byte(cs.adapter.DebugString(r.Context())))
}

func (cs *ControlServer) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cs.persist(r.Context())
	cs.adapter.Shutdown()
	cs.discoveries.clearRecent()
	cs.log.Notice("driver shut down by control request")
	w.WriteHeader(http.StatusOK)
}
