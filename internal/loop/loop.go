// Package loop wraps a pid.Controller into a runnable control loop with a
// simulated plant, a mutex-guarded snapshot and the setters exposed to the
// protocol controllers.
package loop

import (
	"context"
	"sync"
	"time"

	"github.com/loopctl-dev/loopctl/internal/pid"
)

type Snapshot struct {
	Enabled      bool
	Setpoint     float64
	SetpointMin  float64
	SetpointMax  float64
	Mode         Mode
	ProcessValue float64
	Output       float64
	Kp           float64
	Ki           float64
	Kd           float64
}

type Loop struct {
	mu    sync.RWMutex
	s     Snapshot
	ctrl  *pid.Controller
	tuner *pid.AdaptiveTuner
	plant *Plant

	outMin float64
	outMax float64
}

func New(initial Snapshot, pidParams pid.Params, tunerParams pid.TunerParams, plantParams PlantParams) (*Loop, error) {
	if err := validateSnapshot(initial); err != nil {
		return nil, err
	}

	ctrl, err := pid.New(pidParams)
	if err != nil {
		return nil, err
	}
	plant, err := NewPlant(plantParams)
	if err != nil {
		return nil, err
	}

	l := &Loop{
		s:      initial,
		ctrl:   ctrl,
		tuner:  pid.NewAdaptiveTuner(ctrl, tunerParams),
		plant:  plant,
		outMin: pidParams.MinOutput,
		outMax: pidParams.MaxOutput,
	}
	// The snapshot mirrors the controller's gains; pid.Params is the
	// source of truth at construction.
	l.s.Kp, l.s.Ki, l.s.Kd = ctrl.Gains()
	return l, nil
}

func validateSnapshot(s Snapshot) error {
	if !s.Mode.Valid() {
		return ErrInvalidMode
	}
	if s.SetpointMin > s.SetpointMax {
		return ErrInvalidMinMax
	}
	if s.Setpoint < s.SetpointMin || s.Setpoint > s.SetpointMax {
		return ErrSetpointOutOfRange
	}
	return nil
}

func (l *Loop) Get() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.s
}

func (l *Loop) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.s.Enabled = on
}

func (l *Loop) Enable() {
	l.SetEnabled(true)
}

func (l *Loop) Disable() {
	l.SetEnabled(false)
}

func (l *Loop) SetMode(m Mode) error {
	if !m.Valid() {
		return ErrInvalidMode
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	// Re-engaging closed-loop control after a manual stretch starts from a
	// clean controller state so stale windup cannot kick the output.
	if l.s.Mode == ModeManual && m != ModeManual {
		l.ctrl.Reset()
	}
	l.s.Mode = m
	return nil
}

func (l *Loop) SetMinMax(min, max float64) error {
	if min > max {
		return ErrInvalidMinMax
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Enforce current setpoint remains valid
	if l.s.Setpoint < min || l.s.Setpoint > max {
		return ErrSetpointOutOfRange
	}

	l.s.SetpointMin = min
	l.s.SetpointMax = max
	return nil
}

func (l *Loop) SetSetpoint(sp float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if sp < l.s.SetpointMin || sp > l.s.SetpointMax {
		return ErrSetpointOutOfRange
	}
	l.s.Setpoint = sp
	return nil
}

func (l *Loop) SetGains(kp, ki, kd float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ctrl.SetGains(kp, ki, kd)
	l.s.Kp, l.s.Ki, l.s.Kd = kp, ki, kd
}

// SetOutput fixes the command while in manual mode. In auto or adaptive
// mode the next step overwrites it. The manual command obeys the same
// output range as the controller.
func (l *Loop) SetOutput(out float64) error {
	if out < l.outMin || out > l.outMax {
		return ErrManualOutputOutOfRange
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.s.Output = out
	return nil
}

// Step advances the loop by dt: computes a command (unless in manual mode),
// runs a tuning pass in adaptive mode, and feeds the command into the plant.
func (l *Loop) Step(dt time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.s.Enabled {
		switch l.s.Mode {
		case ModeAuto:
			l.s.Output = l.ctrl.Compute(l.s.ProcessValue, l.s.Setpoint, dt.Seconds())
		case ModeAdaptive:
			l.s.Output = l.ctrl.Compute(l.s.ProcessValue, l.s.Setpoint, dt.Seconds())
			l.tuner.Observe(l.s.ProcessValue, l.s.Setpoint)
			l.s.Kp, l.s.Ki, l.s.Kd = l.ctrl.Gains()
		}
	}

	command := 0.0
	if l.s.Enabled {
		command = l.s.Output
	}
	l.s.ProcessValue += l.plant.Delta(l.s.ProcessValue, command, dt)
}

func (l *Loop) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			l.Step(now.Sub(last))
			last = now
		}
	}
}
