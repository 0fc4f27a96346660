package testutil

import "github.com/loopctl-dev/loopctl/internal/loop"

// FakeLoopService is a reusable fake implementing ports.LoopService.
// Put ONLY what multiple test packages need here.
type FakeLoopService struct {
	S loop.Snapshot

	SetEnabledCalled bool
	SetEnabledArg    bool

	SetSetpointCalled bool
	SetSetpointArg    float64
	SetSetpointErr    error

	SetMinMaxCalled bool
	SetMinMaxMin    float64
	SetMinMaxMax    float64
	SetMinMaxErr    error

	SetModeCalled bool
	SetModeArg    loop.Mode
	SetModeErr    error

	SetGainsCalled bool
	SetGainsKp     float64
	SetGainsKi     float64
	SetGainsKd     float64

	SetOutputCalled bool
	SetOutputArg    float64
	SetOutputErr    error
}

func NewFakeLoopService() *FakeLoopService {
	return &FakeLoopService{
		S: loop.Snapshot{
			Enabled:      true,
			Setpoint:     22,
			SetpointMin:  16,
			SetpointMax:  28,
			Mode:         loop.ModeAuto,
			ProcessValue: 21,
			Output:       0.5,
			Kp:           1.0,
			Ki:           0.1,
			Kd:           0.05,
		},
	}
}

func (f *FakeLoopService) Get() loop.Snapshot { return f.S }

func (f *FakeLoopService) SetEnabled(b bool) {
	f.SetEnabledCalled = true
	f.SetEnabledArg = b
	f.S.Enabled = b
}

func (f *FakeLoopService) SetSetpoint(v float64) error {
	f.SetSetpointCalled = true
	f.SetSetpointArg = v
	if f.SetSetpointErr != nil {
		return f.SetSetpointErr
	}
	f.S.Setpoint = v
	return nil
}

func (f *FakeLoopService) SetMinMax(min, max float64) error {
	f.SetMinMaxCalled = true
	f.SetMinMaxMin = min
	f.SetMinMaxMax = max
	if f.SetMinMaxErr != nil {
		return f.SetMinMaxErr
	}
	f.S.SetpointMin = min
	f.S.SetpointMax = max
	return nil
}

func (f *FakeLoopService) SetMode(m loop.Mode) error {
	f.SetModeCalled = true
	f.SetModeArg = m
	if f.SetModeErr != nil {
		return f.SetModeErr
	}
	f.S.Mode = m
	return nil
}

func (f *FakeLoopService) SetGains(kp, ki, kd float64) {
	f.SetGainsCalled = true
	f.SetGainsKp = kp
	f.SetGainsKi = ki
	f.SetGainsKd = kd
	f.S.Kp, f.S.Ki, f.S.Kd = kp, ki, kd
}

func (f *FakeLoopService) SetOutput(v float64) error {
	f.SetOutputCalled = true
	f.SetOutputArg = v
	if f.SetOutputErr != nil {
		return f.SetOutputErr
	}
	f.S.Output = v
	return nil
}
