package util

import (
	"bytes"

	"github.com/kryptco/qr"
)

const (
	qrWhite = "\033[47m  \033[0m"
	qrBlack = "\033[40m  \033[0m"
)

type QRCode struct {
	Terminal string
	Size     int
}

// QREncode renders data as a terminal QR code with a one module quiet zone
func QREncode(data []byte) (qrCode QRCode, err error) {
	code, err := qr.Encode(string(data), qr.L)
	if err != nil {
		return
	}
	var terminal bytes.Buffer
	for y := -1; y <= code.Size; y++ {
		for x := -1; x <= code.Size; x++ {
			if code.Black(x, y) {
				terminal.WriteString(qrBlack)
			} else {
				terminal.WriteString(qrWhite)
			}
		}
		terminal.WriteString("\r\n")
	}
	qrCode = QRCode{
		Terminal: terminal.String(),
		Size:     code.Size,
	}
	return
}
