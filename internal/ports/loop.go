package ports

import "github.com/loopctl-dev/loopctl/internal/loop"

// LoopService is the control-plane port used by controllers (HTTP/MQTT/etc).
type LoopService interface {
	Get() loop.Snapshot
	SetEnabled(bool)
	SetSetpoint(float64) error
	SetMinMax(min, max float64) error
	SetMode(loop.Mode) error
	SetGains(kp, ki, kd float64)
	SetOutput(float64) error
}
