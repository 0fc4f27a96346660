package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"time"

	"github.com/guptarohit/asciigraph"

	"github.com/loopctl-dev/loopctl/internal/loop"
	"github.com/loopctl-dev/loopctl/internal/pid"
)

type SetpointCommand struct {
	IterationNumber int
	Value           float64
}

func SimulateLoop(iterations int, filename string, setpointCommands []SetpointCommand) error {
	initial := loop.Snapshot{
		Enabled:      true,
		Setpoint:     20.0,
		SetpointMin:  10.0,
		SetpointMax:  30.0,
		Mode:         loop.ModeAuto,
		ProcessValue: 15.0,
	}

	pidParams := pid.NewParams(2.0, 0.5, 0.1, -50.0, 50.0)
	plantParams := loop.PlantParams{
		ActuatorGain:    0.05,
		LossCoefficient: 0.02,
		AmbientLevel:    10.0,
	}

	l, err := loop.New(initial, pidParams, pid.NewTunerParams(), plantParams)
	if err != nil {
		return fmt.Errorf("failed to create loop: %v", err)
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"Iteration", "ProcessValue", "Setpoint", "Output"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	trace := make([]float64, 0, iterations)

	for i := range iterations {
		for _, cmd := range setpointCommands {
			if cmd.IterationNumber == i+1 {
				if err := l.SetSetpoint(cmd.Value); err != nil {
					return fmt.Errorf("failed to update setpoint: %v", err)
				}
				break
			}
		}

		l.Step(time.Second)
		snapshot := l.Get()
		trace = append(trace, snapshot.ProcessValue)

		if err := writer.Write([]string{
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("%.4f", snapshot.ProcessValue),
			fmt.Sprintf("%.2f", snapshot.Setpoint),
			fmt.Sprintf("%.4f", snapshot.Output),
		}); err != nil {
			return fmt.Errorf("failed to write CSV record: %v", err)
		}
	}

	fmt.Println(asciigraph.Plot(trace,
		asciigraph.Height(15),
		asciigraph.Width(100),
		asciigraph.Caption("process value step response")))

	return nil
}

func main() {
	commands := []SetpointCommand{
		{
			IterationNumber: 300,
			Value:           25.0,
		},
	}
	if err := SimulateLoop(600, "loopctl.csv", commands); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
