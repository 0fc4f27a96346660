package loop

import "time"

// PlantParams describe the simulated first-order process the loop drives:
// the command moves the process value through ActuatorGain, while
// LossCoefficient pulls it back toward AmbientLevel.
type PlantParams struct {
	ActuatorGain    float64
	LossCoefficient float64 // >= 0, 0 for a pure integrator process
	AmbientLevel    float64
}

func (params *PlantParams) Validate() error {
	if params.LossCoefficient < 0 {
		return ErrNegativeLossCoefficient
	}
	return nil
}

type Plant struct {
	params PlantParams
}

func NewPlant(params PlantParams) (*Plant, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Plant{params: params}, nil
}

func (plant *Plant) Delta(processValue, command float64, dt time.Duration) float64 {
	drift := plant.params.LossCoefficient * (plant.params.AmbientLevel - processValue)
	return (plant.params.ActuatorGain*command + drift) * dt.Seconds()
}
