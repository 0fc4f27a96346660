package loop

import (
	"math"
	"testing"
	"time"

	"github.com/loopctl-dev/loopctl/internal/pid"
)

func assertError(t *testing.T, err error, expected error) {
	t.Helper()
	if err != expected {
		t.Fatalf("expected %v, got %v", expected, err)
	}
}

func newTestSnapshot(opts ...func(*Snapshot)) Snapshot {
	s := Snapshot{
		Enabled:      true,
		Setpoint:     22,
		SetpointMin:  16,
		SetpointMax:  28,
		Mode:         ModeAuto,
		ProcessValue: 21,
	}

	for _, opt := range opts {
		opt(&s)
	}

	return s
}

func newTestLoop(t *testing.T, pidParams pid.Params, plantParams PlantParams, opts ...func(*Snapshot)) *Loop {
	t.Helper()

	l, err := New(newTestSnapshot(opts...), pidParams, pid.NewTunerParams(), plantParams)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return l
}

func proportionalParams() pid.Params {
	return pid.NewParams(1.0, 0, 0, -100, 100)
}

func staticPlant() PlantParams {
	// Zero gain and loss: the process value stays put unless tested otherwise.
	return PlantParams{}
}

func TestNewValidationInvalidMinMax(t *testing.T) {
	s := newTestSnapshot(func(s *Snapshot) {
		s.SetpointMin = 28
		s.SetpointMax = 16
	})
	_, err := New(s, proportionalParams(), pid.NewTunerParams(), staticPlant())
	assertError(t, err, ErrInvalidMinMax)
}

func TestNewValidationInvalidMode(t *testing.T) {
	s := newTestSnapshot(func(s *Snapshot) {
		s.Mode = Mode(999)
	})
	_, err := New(s, proportionalParams(), pid.NewTunerParams(), staticPlant())
	assertError(t, err, ErrInvalidMode)
}

func TestNewValidationInvalidSetpoint(t *testing.T) {
	s := newTestSnapshot(func(s *Snapshot) {
		s.Setpoint = 4
	})
	_, err := New(s, proportionalParams(), pid.NewTunerParams(), staticPlant())
	assertError(t, err, ErrSetpointOutOfRange)
}

func TestNewValidationInvalidPIDParams(t *testing.T) {
	params := proportionalParams()
	params.MinOutput = 10
	params.MaxOutput = -10
	_, err := New(newTestSnapshot(), params, pid.NewTunerParams(), staticPlant())
	assertError(t, err, pid.ErrInvalidOutputRange)
}

func TestNewValidationInvalidPlant(t *testing.T) {
	_, err := New(newTestSnapshot(), proportionalParams(), pid.NewTunerParams(), PlantParams{LossCoefficient: -1})
	assertError(t, err, ErrNegativeLossCoefficient)
}

func TestSnapshotMirrorsGains(t *testing.T) {
	l := newTestLoop(t, pid.NewParams(1.2, 0.3, 0.05, -100, 100), staticPlant())
	s := l.Get()
	if s.Kp != 1.2 || s.Ki != 0.3 || s.Kd != 0.05 {
		t.Fatalf("snapshot gains = %v %v %v", s.Kp, s.Ki, s.Kd)
	}
}

func TestSetpointValidation(t *testing.T) {
	l := newTestLoop(t, proportionalParams(), staticPlant())

	if err := l.SetSetpoint(25); err != nil {
		t.Fatalf("SetSetpoint(25): %v", err)
	}
	assertError(t, l.SetSetpoint(40), ErrSetpointOutOfRange)
	if got := l.Get().Setpoint; got != 25 {
		t.Fatalf("setpoint = %v, want 25", got)
	}
}

func TestSetMinMaxKeepsSetpointValid(t *testing.T) {
	l := newTestLoop(t, proportionalParams(), staticPlant())

	assertError(t, l.SetMinMax(28, 16), ErrInvalidMinMax)
	assertError(t, l.SetMinMax(23, 30), ErrSetpointOutOfRange) // setpoint is 22
	if err := l.SetMinMax(20, 30); err != nil {
		t.Fatalf("SetMinMax(20, 30): %v", err)
	}
}

func TestModeValidation(t *testing.T) {
	l := newTestLoop(t, proportionalParams(), staticPlant())
	assertError(t, l.SetMode(Mode(999)), ErrInvalidMode)
}

func TestSetOutputRange(t *testing.T) {
	l := newTestLoop(t, proportionalParams(), staticPlant())

	if err := l.SetOutput(50); err != nil {
		t.Fatalf("SetOutput(50): %v", err)
	}
	assertError(t, l.SetOutput(101), ErrManualOutputOutOfRange)
	assertError(t, l.SetOutput(-101), ErrManualOutputOutOfRange)
}

func TestStepAutoDrivesPlant(t *testing.T) {
	plant := PlantParams{ActuatorGain: 0.1, LossCoefficient: 1e-4, AmbientLevel: 10}
	l := newTestLoop(t, proportionalParams(), plant)

	l.Step(time.Second)

	s := l.Get()
	if s.Output != 1.0 { // kp * (22 - 21)
		t.Fatalf("output = %v, want 1.0", s.Output)
	}
	want := 21 + (0.1*1.0+1e-4*(10-21))*1.0
	if math.Abs(s.ProcessValue-want) > 1e-12 {
		t.Fatalf("process value = %v, want %v", s.ProcessValue, want)
	}
}

func TestStepManualHoldsOutput(t *testing.T) {
	plant := PlantParams{ActuatorGain: 0.1}
	l := newTestLoop(t, proportionalParams(), plant, func(s *Snapshot) {
		s.Mode = ModeManual
	})

	if err := l.SetOutput(5); err != nil {
		t.Fatalf("SetOutput: %v", err)
	}
	l.Step(time.Second)

	s := l.Get()
	if s.Output != 5 {
		t.Fatalf("manual output = %v, want 5", s.Output)
	}
	if math.Abs(s.ProcessValue-21.5) > 1e-12 { // 21 + 0.1*5*1
		t.Fatalf("process value = %v, want 21.5", s.ProcessValue)
	}
}

func TestStepDisabledAppliesNoCommand(t *testing.T) {
	plant := PlantParams{ActuatorGain: 0.1, LossCoefficient: 0.01, AmbientLevel: 10}
	l := newTestLoop(t, proportionalParams(), plant, func(s *Snapshot) {
		s.Enabled = false
	})

	l.Step(time.Second)

	s := l.Get()
	if s.Output != 0 {
		t.Fatalf("output = %v, want 0 while disabled", s.Output)
	}
	want := 21 + 0.01*(10-21)*1.0 // drift only
	if math.Abs(s.ProcessValue-want) > 1e-12 {
		t.Fatalf("process value = %v, want %v", s.ProcessValue, want)
	}
}

func TestStepAdaptiveUpdatesGains(t *testing.T) {
	l := newTestLoop(t, proportionalParams(), staticPlant(), func(s *Snapshot) {
		s.Mode = ModeAdaptive
		s.ProcessValue = 0 // error 22, far above the tuner threshold
		s.SetpointMin = 0
	})

	before := l.Get().Kp
	l.Step(time.Second)
	after := l.Get().Kp

	if after <= before {
		t.Fatalf("kp = %v, expected growth from %v under sustained error", after, before)
	}
}

func TestManualToAutoResetsController(t *testing.T) {
	params := pid.NewParams(0, 1.0, 0, -100, 100)
	l := newTestLoop(t, params, staticPlant())

	// Accumulate integral: error is 1 per step, so outputs ramp 1, 2, 3.
	for i, want := range []float64{1, 2, 3} {
		l.Step(time.Second)
		if got := l.Get().Output; math.Abs(got-want) > 1e-12 {
			t.Fatalf("step %d: output = %v, want %v", i, got, want)
		}
	}

	if err := l.SetMode(ModeManual); err != nil {
		t.Fatalf("SetMode(manual): %v", err)
	}
	if err := l.SetMode(ModeAuto); err != nil {
		t.Fatalf("SetMode(auto): %v", err)
	}

	// The controller restarted from scratch: no stale integral.
	l.Step(time.Second)
	if got := l.Get().Output; math.Abs(got-1) > 1e-12 {
		t.Fatalf("output after re-engage = %v, want 1", got)
	}
}

func TestSetGainsPropagates(t *testing.T) {
	l := newTestLoop(t, proportionalParams(), staticPlant())
	l.SetGains(2.0, 0, 0)

	s := l.Get()
	if s.Kp != 2.0 {
		t.Fatalf("snapshot kp = %v, want 2.0", s.Kp)
	}

	l.Step(time.Second)
	if got := l.Get().Output; got != 2.0 { // 2 * (22 - 21)
		t.Fatalf("output = %v, want 2.0", got)
	}
}
