package loop

import "errors"

var (
	ErrInvalidMode             = errors.New("invalid mode")
	ErrInvalidMinMax           = errors.New("invalid min/max setpoints")
	ErrSetpointOutOfRange      = errors.New("setpoint out of range")
	ErrNegativeLossCoefficient = errors.New("plant loss coefficient must be greater or equal to zero")
	ErrManualOutputOutOfRange  = errors.New("manual output outside the controller output range")
)
