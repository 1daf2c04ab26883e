// Package sim provides simulated instrument drivers for bench testing the
// hub and its delegates without hardware.
package sim

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"

	"github.com/nerrad567/gray-logic-instruments/internal/bridge"
	"github.com/nerrad567/gray-logic-instruments/internal/instrument"
)

// Kind names under which the simulated drivers are registered.
const (
	KindDMM    = "sim.DMM"
	KindSource = "sim.Source"
)

func init() {
	instrument.RegisterKind(KindDMM, func() *DMM { return NewDMM() })
	instrument.RegisterKind(KindSource, func() *Source { return NewSource() })
}

// conn stands in for a hardware session.
type conn struct {
	mu     sync.Mutex
	closed bool
}

func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// DMM simulates a digital multimeter speaking a small SCPI subset.
type DMM struct {
	mu     sync.Mutex
	rng    *rand.Rand
	rng0   float64
	nplc   float64
	last   string
	resets int
}

// NewDMM returns a DMM on its 10 V range.
func NewDMM() *DMM {
	return &DMM{rng: rand.New(rand.NewPCG(1, 2)), rng0: 10, nplc: 1}
}

// Setup declares the DMM's parameters and functions.
func (d *DMM) Setup(inst *instrument.Instrument) error {
	params := []struct {
		name string
		cfg  instrument.ParamConfig
	}{
		{"idn", instrument.ParamConfig{GetCmd: "*IDN?", Label: "Identity"}},
		{"voltage", instrument.ParamConfig{GetCmd: "MEAS:VOLT?", Parse: instrument.ParseFloat, Label: "Voltage", Units: "V"}},
		{"range", instrument.ParamConfig{GetCmd: "VOLT:RANG?", SetCmd: "VOLT:RANG %v", Parse: instrument.ParseFloat, Units: "V"}},
		{"nplc", instrument.ParamConfig{GetCmd: "VOLT:NPLC?", SetCmd: "VOLT:NPLC %v", Parse: instrument.ParseFloat}},
	}
	for _, p := range params {
		if _, err := inst.AddParameter(p.name, instrument.Standard(p.cfg)); err != nil {
			return err
		}
	}
	_, err := inst.AddFunction("reset", instrument.FunctionConfig{Cmd: "*RST", Doc: "Restore power-on settings"})
	return err
}

// OnConnect opens the simulated session.
func (d *DMM) OnConnect(_ context.Context, inst *instrument.Instrument) error {
	inst.SetConnection(&conn{})
	return nil
}

// Write executes a configuration command.
func (d *DMM) Write(_ context.Context, cmd string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	head, arg, _ := strings.Cut(strings.TrimSpace(cmd), " ")
	switch strings.ToUpper(head) {
	case "*RST":
		d.rng0, d.nplc = 10, 1
		d.resets++
	case "VOLT:RANG":
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil || v <= 0 {
			return fmt.Errorf("sim: bad range %q", arg)
		}
		d.rng0 = v
	case "VOLT:NPLC":
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil || v <= 0 {
			return fmt.Errorf("sim: bad nplc %q", arg)
		}
		d.nplc = v
	default:
		return fmt.Errorf("sim: unknown command %q", cmd)
	}
	d.last = cmd
	return nil
}

// Ask answers a query.
func (d *DMM) Ask(_ context.Context, cmd string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch strings.ToUpper(strings.TrimSpace(cmd)) {
	case "*IDN?":
		return "GrayLogic,SIM-DMM,0001,1.0", nil
	case "MEAS:VOLT?":
		return strconv.FormatFloat(d.rng.Float64()*d.rng0, 'f', 6, 64), nil
	case "VOLT:RANG?":
		return strconv.FormatFloat(d.rng0, 'g', -1, 64), nil
	case "VOLT:NPLC?":
		return strconv.FormatFloat(d.nplc, 'g', -1, 64), nil
	}
	return "", fmt.Errorf("sim: unknown query %q", cmd)
}

// Resets returns how many times *RST was received.
func (d *DMM) Resets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resets
}

// Source simulates a voltage source whose driver is written in the
// suspendable style only.
type Source struct {
	mu     sync.Mutex
	level  float64
	output bool
}

// NewSource returns a Source with its output off.
func NewSource() *Source { return &Source{} }

// Setup declares the source's parameters.
func (s *Source) Setup(inst *instrument.Instrument) error {
	if _, err := inst.AddParameter("level", instrument.Standard(instrument.ParamConfig{
		GetCmd: "SOUR:VOLT?", SetCmd: "SOUR:VOLT %v", Parse: instrument.ParseFloat, Units: "V",
	})); err != nil {
		return err
	}
	_, err := inst.AddParameter("output", instrument.Standard(instrument.ParamConfig{
		GetCmd: "OUTP?", SetCmd: "OUTP %v", Parse: instrument.ParseInt,
	}))
	return err
}

// OnConnect opens the simulated session.
func (s *Source) OnConnect(_ context.Context, inst *instrument.Instrument) error {
	inst.SetConnection(&conn{})
	return nil
}

// WriteAsync applies a setting.
func (s *Source) WriteAsync(_ context.Context, cmd string) *bridge.Task[struct{}] {
	return bridge.NewTask(func(context.Context) (struct{}, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		head, arg, _ := strings.Cut(strings.TrimSpace(cmd), " ")
		switch strings.ToUpper(head) {
		case "SOUR:VOLT":
			v, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				return struct{}{}, fmt.Errorf("sim: bad level %q", arg)
			}
			s.level = v
		case "OUTP":
			s.output = arg == "1" || strings.EqualFold(arg, "ON")
		default:
			return struct{}{}, fmt.Errorf("sim: unknown command %q", cmd)
		}
		return struct{}{}, nil
	})
}

// AskAsync answers a query.
func (s *Source) AskAsync(_ context.Context, cmd string) *bridge.Task[string] {
	return bridge.NewTask(func(context.Context) (string, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		switch strings.ToUpper(strings.TrimSpace(cmd)) {
		case "SOUR:VOLT?":
			return strconv.FormatFloat(s.level, 'g', -1, 64), nil
		case "OUTP?":
			if s.output {
				return "1", nil
			}
			return "0", nil
		}
		return "", fmt.Errorf("sim: unknown query %q", cmd)
	})
}
