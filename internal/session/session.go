// Package session runs one control session: it subscribes to the three input
// paths, feeds complete samples through the hysteresis controller and writes
// every decision to the output sink.
//
// A session always writes 0 to the output when it starts and again when it
// stops, so the heater is off unless a live session has decided otherwise.
package session

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/solar-hot-water/internal/combine"
	"github.com/sweeney/solar-hot-water/internal/config"
	"github.com/sweeney/solar-hot-water/internal/logic"
)

// Source delivers raw payloads published on a data bus path.
type Source interface {
	// Subscribe registers fn for updates on path and returns a function that
	// cancels the subscription. An error means the path cannot be resolved.
	Subscribe(path string, fn func(payload []byte)) (func(), error)
}

// Sink receives the output value.
type Sink interface {
	Write(path string, value int) error
}

// Notifier receives human-readable status and fatal errors.
type Notifier interface {
	Status(msg string)
	Error(err error)
}

// Observer is told about every evaluation and every rejected sample.
type Observer interface {
	Evaluated(ev Evaluation)
	Rejected(path string, err error)
}

// Evaluation describes one pass through the controller.
type Evaluation struct {
	Time     time.Time
	Sample   logic.Sample
	State    logic.State
	Decision logic.Decision
	WriteErr error
}

// Deps are the collaborators of a session. Source and Sink are required.
type Deps struct {
	Source   Source
	Sink     Sink
	Notifier Notifier
	Observer Observer
	Log      zerolog.Logger
	Now      func() time.Time
}

// Input indexes, in the order they are combined.
const (
	inputEnable = iota
	inputSoc
	inputPower
	inputCount
)

// Handle is a running session.
type Handle struct {
	cfg        config.Controller
	thresholds logic.Config
	deps       Deps
	paths      [inputCount]string

	comb   *combine.Combiner
	unsubs []func()

	mu    sync.Mutex
	state logic.State
	err   error
	timer *time.Timer

	stopOnce sync.Once
	stopErr  error
	done     chan struct{}
}

// Start validates cfg, writes the fail-safe 0 to the output and subscribes
// to the input paths. The 0 is written even when cfg is invalid, as long as
// it names an output path. Configuration errors and unreachable paths are fatal:
// they are reported through the notifier and no subscription is left open.
func Start(cfg config.Controller, deps Deps) (*Handle, error) {
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Source == nil || deps.Sink == nil {
		err := fmt.Errorf("session: source and sink are required")
		deps.Notifier.Error(err)
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		deps.Log.Error().Err(err).Msg("bad or missing configuration")
		if cfg.OutputPath != "" {
			if werr := deps.Sink.Write(cfg.OutputPath, logic.OutputOff); werr != nil {
				deps.Log.Error().Err(werr).Str("path", cfg.OutputPath).Msg("output write error")
			}
		}
		deps.Notifier.Error(err)
		return nil, err
	}

	h := &Handle{
		cfg:        cfg,
		thresholds: cfg.Thresholds(),
		deps:       deps,
		paths:      [inputCount]string{cfg.EnablePath, cfg.BatterySocPath, cfg.PowerPath},
		state:      logic.Initial(),
		done:       make(chan struct{}),
	}
	h.comb = combine.New(inputCount, h.evaluate)

	h.write(logic.OutputOff)

	for i, path := range h.paths {
		unsub, err := deps.Source.Subscribe(path, h.receiver(i))
		if err != nil {
			uerr := &UnreachableInputError{Path: path, Err: err}
			deps.Log.Error().Err(err).Str("path", path).Msg("cannot connect to input stream")
			h.comb.Close()
			h.unsubscribeAll()
			close(h.done)
			deps.Notifier.Error(uerr)
			return nil, uerr
		}
		h.unsubs = append(h.unsubs, unsub)
	}

	if cfg.ResolveTimeout > 0 {
		h.mu.Lock()
		h.timer = time.AfterFunc(cfg.ResolveTimeout, h.checkResolved)
		h.mu.Unlock()
	}

	deps.Log.Info().
		Str("enable_path", cfg.EnablePath).
		Str("battery_soc_path", cfg.BatterySocPath).
		Str("power_path", cfg.PowerPath).
		Str("output_path", cfg.OutputPath).
		Float64("soc_start", h.thresholds.SocStart).
		Float64("soc_stop", h.thresholds.SocStop).
		Float64("power_threshold", h.thresholds.PowerThreshold).
		Msg("session started")
	return h, nil
}

// Stop cancels the subscriptions and writes 0 to the output. It is safe to
// call more than once; later calls return the result of the first.
func (h *Handle) Stop() error {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		if h.timer != nil {
			h.timer.Stop()
		}
		h.mu.Unlock()
		// Close waits for an in-flight evaluation, so the off-write below
		// is the last write of the session.
		h.comb.Close()
		h.unsubscribeAll()
		h.stopErr = h.write(logic.OutputOff)
		h.deps.Log.Info().Msg("session stopped")
		close(h.done)
	})
	return h.stopErr
}

// Done is closed once the session has stopped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the fatal error that stopped the session, if any.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// State returns a copy of the controller state.
func (h *Handle) State() logic.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Primed reports whether every input path has delivered a value.
func (h *Handle) Primed() bool {
	return h.comb.Primed()
}

// Config returns the controller configuration of the session.
func (h *Handle) Config() config.Controller {
	return h.cfg
}

func (h *Handle) receiver(i int) func([]byte) {
	path := h.paths[i]
	return func(payload []byte) {
		v, err := ParseValue(payload)
		if err != nil {
			h.deps.Log.Warn().Err(err).Str("path", path).Msg("ignoring sample")
			h.deps.Observer.Rejected(path, err)
			return
		}
		if i == inputEnable {
			v = truthy(v)
		}
		h.comb.Update(i, v)
	}
}

// evaluate runs under the combiner lock, so evaluations never overlap.
func (h *Handle) evaluate(values []float64) {
	in := logic.Sample{
		Enabled:       values[inputEnable] != 0,
		StateOfCharge: ScaleSoc(values[inputSoc]),
		Power:         values[inputPower],
	}

	h.mu.Lock()
	next, d := logic.Evaluate(h.thresholds, h.state, in)
	h.state = next
	h.mu.Unlock()

	werr := h.write(d.Output)

	if d.Notification != nil {
		msg := d.Notification.String()
		h.deps.Log.Info().
			Bool("enabled", in.Enabled).
			Float64("soc", in.StateOfCharge).
			Float64("power", in.Power).
			Msg(msg)
		h.deps.Notifier.Status(msg)
	}

	h.deps.Observer.Evaluated(Evaluation{
		Time:     h.deps.Now(),
		Sample:   in,
		State:    next,
		Decision: d,
		WriteErr: werr,
	})
}

func (h *Handle) write(v int) error {
	err := h.deps.Sink.Write(h.cfg.OutputPath, v)
	if err != nil {
		// Don't stop the session on a failed write; the next evaluation retries.
		h.deps.Log.Error().Err(err).Str("path", h.cfg.OutputPath).Int("value", v).Msg("output write error")
	}
	return err
}

func (h *Handle) unsubscribeAll() {
	for _, unsub := range h.unsubs {
		unsub()
	}
	h.unsubs = nil
}

// checkResolved stops the session if some input never delivered a value.
func (h *Handle) checkResolved() {
	missing := h.comb.Missing()
	if len(missing) == 0 {
		return
	}

	var first error
	for _, i := range missing {
		err := &UnreachableInputError{
			Path: h.paths[i],
			Err:  fmt.Errorf("no value received within %v", h.cfg.ResolveTimeout),
		}
		h.deps.Log.Error().Err(err).Str("path", h.paths[i]).Msg("input never resolved")
		h.deps.Notifier.Error(err)
		if first == nil {
			first = err
		}
	}

	h.mu.Lock()
	h.err = first
	h.mu.Unlock()
	h.Stop()
}

// ScaleSoc converts a 0-1 state of charge fraction to percent. The result is
// rounded to six decimals so 0.95 compares equal to a 95 threshold.
func ScaleSoc(fraction float64) float64 {
	return math.Round(fraction*100*1e6) / 1e6
}

func truthy(v float64) float64 {
	if v != 0 {
		return 1
	}
	return 0
}

type nopNotifier struct{}

func (nopNotifier) Status(string) {}
func (nopNotifier) Error(error)   {}

type nopObserver struct{}

func (nopObserver) Evaluated(Evaluation)   {}
func (nopObserver) Rejected(string, error) {}

// Observers fans out to several observers in order.
type Observers []Observer

func (o Observers) Evaluated(ev Evaluation) {
	for _, obs := range o {
		obs.Evaluated(ev)
	}
}

func (o Observers) Rejected(path string, err error) {
	for _, obs := range o {
		obs.Rejected(path, err)
	}
}

// Notifiers fans out to several notifiers in order.
type Notifiers []Notifier

func (n Notifiers) Status(msg string) {
	for _, nt := range n {
		nt.Status(msg)
	}
}

func (n Notifiers) Error(err error) {
	for _, nt := range n {
		nt.Error(err)
	}
}

// Sinks writes to several sinks in order. Every sink is written even if an
// earlier one fails; the errors are joined.
type Sinks []Sink

func (s Sinks) Write(path string, value int) error {
	var errs []error
	for _, sk := range s {
		if err := sk.Write(path, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
