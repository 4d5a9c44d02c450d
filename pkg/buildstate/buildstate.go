// Package buildstate drives the per-PKGBUILD build state machine the
// teacher's pkg/builder only partially models (Compile is a flat
// extract-prepare-build-package sequence with no admission gate or
// retry budget); this package generalizes it into a seven-state
// machine (plus the terminal Failed state) spec.md §4.8 requires, with load-aware admission and
// prometheus gauges instrumenting it per the domain stack.
package buildstate

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arch-repo-builder/arb/pkg/errs"
	"github.com/arch-repo-builder/arb/pkg/logger"
)

var buildLog = logger.WithComponent("buildstate")

// State is one of the closed states a PKGBUILD build traverses.
type State string

const (
	None          State = "none"
	Extracting    State = "extracting"
	Extracted     State = "extracted"
	Bootstrapping State = "bootstrapping"
	Bootstrapped  State = "bootstrapped"
	Building      State = "building"
	Built         State = "built"
	Failed        State = "failed"
)

// MaxRetries is the build retry budget: a third consecutive non-zero
// makepkg exit fails the PKGBUILD outright.
const MaxRetries = 3

var (
	activeBuilds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arb_build_active",
		Help: "Number of PKGBUILDs currently in a given build state.",
	}, []string{"state"})

	admissionStalls = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arb_build_admission_stalls_total",
		Help: "Number of admission ticks that stalled new child-spawning transitions due to load.",
	})
)

func init() {
	prometheus.MustRegister(activeBuilds, admissionStalls)
}

// Actions performs the side-effecting work behind each transition. The
// driver supplies an Actions implementation; buildstate only sequences
// calls and applies the retry/admission policy.
type Actions interface {
	Extract(ctx context.Context, pkgbase string) error
	Bootstrap(ctx context.Context, pkgbase string) error
	Build(ctx context.Context, pkgbase string) error
	Finish(ctx context.Context, pkgbase string) error
}

// Admission reports whether the system has headroom to start a new
// child-spawning transition this tick (one-minute load average < core count).
type Admission interface {
	Admit() bool
}

// LoadAdmission samples load average and core count every Interval and
// caches the verdict, matching the spec's 100ms sampling cadence without
// a syscall on every single admission check.
type LoadAdmission struct {
	Interval  time.Duration
	LoadAvg   func() (float64, error)
	NumCPU    func() int
	mu        sync.Mutex
	lastCheck time.Time
	lastAdmit bool
}

// Admit reports the cached admission verdict, resampling if Interval
// has elapsed since the last sample.
func (a *LoadAdmission) Admit() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if time.Since(a.lastCheck) < a.Interval && !a.lastCheck.IsZero() {
		return a.lastAdmit
	}

	load, err := a.LoadAvg()
	if err != nil {
		buildLog.Warn("failed to sample load average, admitting conservatively", "error", err)

		a.lastAdmit = false
		a.lastCheck = time.Now()

		return a.lastAdmit
	}

	admit := load < float64(a.NumCPU())
	if !admit {
		admissionStalls.Inc()
	}

	a.lastAdmit = admit
	a.lastCheck = time.Now()

	return admit
}

// Machine drives one PKGBUILD through its states.
type Machine struct {
	Pkgbase   string
	Actions   Actions
	Admission Admission

	state State
	tries int
}

// NewMachine starts a Machine in state None.
func NewMachine(pkgbase string, actions Actions, admission Admission) *Machine {
	return &Machine{Pkgbase: pkgbase, Actions: actions, Admission: admission, state: None}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Step attempts to advance the machine by exactly one transition,
// returning immediately without error if admission is currently
// withheld for a child-spawning transition. Terminal states (Built,
// Failed) return nil on every call.
func (m *Machine) Step(ctx context.Context) error {
	switch m.state {
	case None:
		return m.spawnTransition(ctx, Extracting, Extracted, m.Actions.Extract)
	case Extracted:
		return m.spawnTransition(ctx, Bootstrapping, Bootstrapped, m.Actions.Bootstrap)
	case Bootstrapped, Building:
		return m.buildTransition(ctx)
	case Built, Failed:
		return nil
	}

	return nil
}

func (m *Machine) spawnTransition(ctx context.Context, inProgress, onSuccess State, action func(context.Context, string) error) error {
	if !m.Admission.Admit() {
		return nil
	}

	m.setState(inProgress)

	if err := action(ctx, m.Pkgbase); err != nil {
		m.setState(Failed)

		return errs.Wrap(err, errs.Child, string(inProgress)+" failed").WithOperation(m.Pkgbase)
	}

	m.setState(onSuccess)

	return nil
}

func (m *Machine) buildTransition(ctx context.Context) error {
	if !m.Admission.Admit() {
		return nil
	}

	m.setState(Building)

	if err := m.Actions.Build(ctx, m.Pkgbase); err != nil {
		m.tries++

		if m.tries >= MaxRetries {
			m.setState(Failed)

			return errs.Wrap(err, errs.Child, "build failed after exhausting retries").WithOperation(m.Pkgbase)
		}

		buildLog.Warn("build attempt failed, retrying", "pkgbase", m.Pkgbase, "tries", m.tries)

		if !m.Admission.Admit() {
			m.setState(Bootstrapped)
		}

		return nil
	}

	if err := m.Actions.Finish(ctx, m.Pkgbase); err != nil {
		m.setState(Failed)

		return errs.Wrap(err, errs.IO, "finishing build").WithOperation(m.Pkgbase)
	}

	m.setState(Built)

	return nil
}

func (m *Machine) setState(s State) {
	if m.state != "" {
		activeBuilds.WithLabelValues(string(m.state)).Dec()
	}

	m.state = s
	activeBuilds.WithLabelValues(string(s)).Inc()
}

// Done reports whether the machine has reached a terminal state.
func (m *Machine) Done() bool {
	return m.state == Built || m.state == Failed
}
