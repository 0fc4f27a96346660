package device

import "github.com/loopctl-dev/loopctl/internal/loop"

type Device struct {
	ID string
	L  *loop.Loop
}

func New(id string, l *loop.Loop) *Device {
	return &Device{ID: id, L: l}
}
