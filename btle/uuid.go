package btle

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/satori/go.uuid"
)

var (
	VanadiumBaseUUID = uuid.Must(uuid.FromString("3dd1d5a8-0000-5000-0000-000000000000"))
	VanadiumMaskUUID = uuid.Must(uuid.FromString("ffffffff-0000-f000-0000-000000000000"))

	//	notify/write characteristic attached to every advertised service
	DataCharacteristicUUID = uuid.Must(uuid.FromString("20f53e48-c08d-423a-b2c2-1c797889af24"))
)

var vanadiumUUIDPrefix = [...]byte{0x3d, 0xd1, 0xd5, 0xa8}

func ParseUUID(s string) (u uuid.UUID, err error) {
	u, err = uuid.FromString(strings.TrimSpace(s))
	if err != nil {
		err = errors.Wrapf(err, "invalid uuid %q", s)
	}
	return
}

// deterministic service uuid for an interface name, always inside the Vanadium base/mask
func ServiceUUID(interfaceName string) (u uuid.UUID) {
	u = uuid.NewV5(VanadiumBaseUUID, interfaceName)
	copy(u[:], vanadiumUUIDPrefix[:])
	return
}

// flips the last bit, used to signal an updated advertisement under the same interface
func ToggleServiceUUID(u uuid.UUID) uuid.UUID {
	u[len(u)-1] ^= 0x01
	return u
}

func MaskedEqual(u, base, mask uuid.UUID) bool {
	for i := range u {
		if u[i]&mask[i] != base[i]&mask[i] {
			return false
		}
	}
	return true
}

type ScanFilter struct {
	explicit map[uuid.UUID]struct{}
	Base     uuid.UUID
	Mask     uuid.UUID
}

func NewScanFilter(uuids []uuid.UUID, base, mask uuid.UUID) ScanFilter {
	filter := ScanFilter{Base: base, Mask: mask}
	if len(uuids) > 0 {
		filter.explicit = map[uuid.UUID]struct{}{}
		for _, u := range uuids {
			filter.explicit[u] = struct{}{}
		}
	}
	return filter
}

// a non-empty explicit set takes precedence over base/mask
func (f ScanFilter) Matches(u uuid.UUID) bool {
	if len(f.explicit) > 0 {
		_, ok := f.explicit[u]
		return ok
	}
	return MaskedEqual(u, f.Base, f.Mask)
}

func (f ScanFilter) Explicit() (uuids []uuid.UUID) {
	for u := range f.explicit {
		uuids = append(uuids, u)
	}
	return
}

func (f ScanFilter) String() string {
	if len(f.explicit) > 0 {
		names := []string{}
		for u := range f.explicit {
			names = append(names, u.String())
		}
		return "uuids=[" + strings.Join(names, ",") + "]"
	}
	return "base=" + f.Base.String() + " mask=" + f.Mask.String()
}
