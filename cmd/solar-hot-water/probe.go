package main

import (
	"fmt"
	"io"
	"time"

	"github.com/sweeney/solar-hot-water/internal/config"
	"github.com/sweeney/solar-hot-water/internal/logic"
	"github.com/sweeney/solar-hot-water/internal/session"
)

// probe waits for one numeric value on each input path and prints them with
// the decision a controller in its initial state would make.
func probe(src session.Source, cfg config.Controller, timeout time.Duration, w io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	paths := []string{cfg.EnablePath, cfg.BatterySocPath, cfg.PowerPath}
	values := make([]float64, len(paths))

	for i, path := range paths {
		got := make(chan float64, 1)
		unsub, err := src.Subscribe(path, func(payload []byte) {
			v, err := session.ParseValue(payload)
			if err != nil {
				return
			}
			select {
			case got <- v:
			default:
			}
		})
		if err != nil {
			return &session.UnreachableInputError{Path: path, Err: err}
		}

		select {
		case values[i] = <-got:
			unsub()
		case <-time.After(timeout):
			unsub()
			return &session.UnreachableInputError{Path: path, Err: fmt.Errorf("no value within %s", timeout)}
		}
	}

	sample := logic.Sample{
		Enabled:       values[0] != 0,
		StateOfCharge: session.ScaleSoc(values[1]),
		Power:         values[2],
	}
	state, decision := logic.Evaluate(cfg.Thresholds(), logic.Initial(), sample)

	fmt.Fprintf(w, "enabled: %v (%s)\n", sample.Enabled, cfg.EnablePath)
	fmt.Fprintf(w, "battery soc: %g%% (%s)\n", sample.StateOfCharge, cfg.BatterySocPath)
	fmt.Fprintf(w, "power: %g (%s)\n", sample.Power, cfg.PowerPath)
	fmt.Fprintf(w, "soc permit: %v\n", state.SocPermit)
	fmt.Fprintf(w, "output: %d (%s)\n", decision.Output, cfg.OutputPath)
	if decision.Notification != nil {
		fmt.Fprintf(w, "status: %s\n", decision.Notification)
	}
	return nil
}
