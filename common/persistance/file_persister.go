package persistance

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/youtube/vitess/go/ioutil2"
)

const STATE_FILENAME = "krbtle-state.json"

type FilePersister struct {
	Dir string
}

func (fp FilePersister) path() string {
	return filepath.Join(fp.Dir, STATE_FILENAME)
}

func (fp FilePersister) SaveState(state DriverState) (err error) {
	stateJson, err := json.Marshal(state)
	if err != nil {
		return
	}
	err = ioutil2.WriteFileAtomic(fp.path(), stateJson, 0600)
	return
}

func (fp FilePersister) LoadState() (state DriverState, err error) {
	stateJson, err := ioutil.ReadFile(fp.path())
	if os.IsNotExist(err) {
		err = ErrNoState
		return
	}
	if err != nil {
		return
	}
	err = json.Unmarshal(stateJson, &state)
	return
}

func (fp FilePersister) DeleteState() (err error) {
	err = os.Remove(fp.path())
	if os.IsNotExist(err) {
		err = nil
	}
	return
}
