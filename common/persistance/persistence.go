package persistance

import (
	"fmt"
	"sync"
)

var ErrNoState = fmt.Errorf("no driver state saved")

type PersistedService struct {
	UUID            string            `json:"uuid"`
	Characteristics map[string][]byte `json:"characteristics,omitempty"`
}

// what krbtled restores on start
type DriverState struct {
	Services           []PersistedService `json:"services"`
	RotateDelaySeconds float64            `json:"rotate_delay_seconds,omitempty"`
}

type Persister interface {
	SaveState(state DriverState) (err error)
	LoadState() (state DriverState, err error)
	DeleteState() (err error)
}

type MemoryPersister struct {
	sync.Mutex
	state *DriverState
}

func (mp *MemoryPersister) SaveState(state DriverState) (err error) {
	mp.Lock()
	defer mp.Unlock()
	mp.state = &state
	return
}

func (mp *MemoryPersister) LoadState() (state DriverState, err error) {
	mp.Lock()
	defer mp.Unlock()
	if mp.state == nil {
		err = ErrNoState
		return
	}
	state = *mp.state
	return
}

func (mp *MemoryPersister) DeleteState() (err error) {
	mp.Lock()
	defer mp.Unlock()
	mp.state = nil
	return
}
