package util

import (
	"crypto/rand"

	"github.com/keybase/saltpack/encoding/basex"
)

func RandNBytes(n uint) (randBytes []byte, err error) {
	randBytes = make([]byte, n)
	_, err = rand.Read(randBytes)
	return
}

// short random name, used for temporary socket files
func Rand128Base62() (encodedRand string, err error) {
	randBuf, err := RandNBytes(16)
	if err != nil {
		return
	}
	encodedRand = basex.Base62StdEncoding.EncodeToString(randBuf)
	return
}
