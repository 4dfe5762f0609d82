package util

import (
	"strings"
	"testing"
	"time"
)

func TestRand128Base62Unique(t *testing.T) {
	a, err := Rand128Base62()
	if err != nil {
		t.Fatal(err)
	}
	b, err := Rand128Base62()
	if err != nil {
		t.Fatal(err)
	}
	if a == b || len(a) == 0 {
		t.Fatal("expected distinct non-empty names")
	}
}

func TestRecoverToLog(t *testing.T) {
	ran := false
	RecoverToLog(func() {
		ran = true
		panic("boom")
	}, nil)
	if !ran {
		t.Fatal("function not run")
	}
}

func TestColorsWrapText(t *testing.T) {
	for _, paint := range []func(string) string{Cyan, Green, Yellow, Red} {
		painted := paint("krbtle")
		if !strings.Contains(painted, "krbtle") || !strings.HasPrefix(painted, "\x1b[") {
			t.Fatal("expected escape-wrapped text, got", painted)
		}
	}
}

func TestTrueBefore(t *testing.T) {
	start := time.Now()
	TrueBefore(t, func() bool {
		return time.Since(start) > 5*time.Millisecond
	}, time.Now().Add(time.Second))
}

func TestQREncode(t *testing.T) {
	code, err := QREncode([]byte("3dd1d5a8-0000-4000-8000-000000000000"))
	if err != nil {
		t.Fatal(err)
	}
	if code.Size == 0 {
		t.Fatal("empty code")
	}
	rows := strings.Count(code.Terminal, "\r\n")
	if rows != code.Size+2 {
		t.Fatal("expected a quiet zone row above and below, got", rows, "rows for size", code.Size)
	}
}
