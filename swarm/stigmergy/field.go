package stigmergy

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/swarm/audit"
	"github.com/BaSui01/agentswarm/types"
)

const component = "stigmergy"

// Config holds field dynamics.
type Config struct {
	// DecayRate is the fraction of intensity lost per decay step, in [0,1].
	DecayRate float64 `yaml:"decay_rate" env:"DECAY_RATE" json:"decay_rate"`

	// DiffusionRate is the fraction of intensity a cell spreads per diffusion step, in [0,1].
	DiffusionRate float64 `yaml:"diffusion_rate" env:"DIFFUSION_RATE" json:"diffusion_rate"`

	// DepositAmount is the intensity added by one SignalResource call.
	DepositAmount float64 `yaml:"deposit_amount" env:"DEPOSIT_AMOUNT" json:"deposit_amount"`

	// PruneThreshold drops cells that decay below it. Zero keeps every cell.
	PruneThreshold float64 `yaml:"prune_threshold" env:"PRUNE_THRESHOLD" json:"prune_threshold"`

	// CycleInterval is the Run period; zero disables the background cycle.
	CycleInterval time.Duration `yaml:"cycle_interval" env:"CYCLE_INTERVAL" json:"cycle_interval"`

	// Bounds, when set, confines deposits and diffusion to a rectangle.
	Bounds *Bounds `yaml:"bounds,omitempty" json:"bounds,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DecayRate:      0.1,
		DiffusionRate:  0.1,
		DepositAmount:  1.0,
		PruneThreshold: 1e-3,
		CycleInterval:  time.Second,
	}
}

// Validate checks the rates.
func (c Config) Validate() error {
	switch {
	case c.DecayRate < 0 || c.DecayRate > 1:
		return types.Validationf("decay rate %v outside [0,1]", c.DecayRate)
	case c.DiffusionRate < 0 || c.DiffusionRate > 1:
		return types.Validationf("diffusion rate %v outside [0,1]", c.DiffusionRate)
	case c.DepositAmount <= 0:
		return types.Validationf("deposit amount must be positive")
	case c.PruneThreshold < 0:
		return types.Validationf("prune threshold must not be negative")
	case c.Bounds != nil && (c.Bounds.MinX > c.Bounds.MaxX || c.Bounds.MinY > c.Bounds.MaxY):
		return types.Validationf("empty field bounds")
	}
	return nil
}

type cellState struct {
	intensity     float64
	lastTouched   time.Time
	lastDepositor string
}

// layer is the grid for a single signal.
type layer struct {
	mu    sync.RWMutex
	cells map[Location]*cellState
}

// Field is a sparse pheromone grid keyed by (location, signal). Each signal
// layer has its own lock; readers may observe a layer between cycles.
type Field struct {
	mu     sync.RWMutex
	layers map[Signal]*layer

	sink   audit.Sink
	config Config
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Field.
type Option func(*Field)

// WithAuditSink sets the audit sink.
func WithAuditSink(s audit.Sink) Option {
	return func(f *Field) { f.sink = audit.OrNop(s) }
}

// New creates an empty field.
func New(config Config, logger *zap.Logger, opts ...Option) (*Field, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Field{
		layers: make(map[Signal]*layer),
		sink:   audit.Nop{},
		config: config,
		logger: logger.With(zap.String("component", component)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *Field) layer(sig Signal, create bool) *layer {
	f.mu.RLock()
	l := f.layers[sig]
	f.mu.RUnlock()
	if l != nil || !create {
		return l
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if l = f.layers[sig]; l == nil {
		l = &layer{cells: make(map[Location]*cellState)}
		f.layers[sig] = l
	}
	return l
}

func (f *Field) snapshotLayers() []*layer {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*layer, 0, len(f.layers))
	for _, l := range f.layers {
		out = append(out, l)
	}
	return out
}

func (f *Field) inBounds(loc Location) bool {
	return f.config.Bounds == nil || f.config.Bounds.Contains(loc)
}

// SignalResource deposits DepositAmount of sig at loc on behalf of agentID.
func (f *Field) SignalResource(ctx context.Context, loc Location, sig Signal, agentID string) error {
	if sig == "" {
		return f.fail(ctx, "signal", types.Validationf("signal type must not be empty"))
	}
	if !f.inBounds(loc) {
		return f.fail(ctx, "signal", types.Validationf("location (%d,%d) outside field bounds", loc.X, loc.Y))
	}

	l := f.layer(sig, true)
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.cells[loc]
	if c == nil {
		c = &cellState{}
		l.cells[loc] = c
	}
	c.intensity += f.config.DepositAmount
	c.lastTouched = f.now()
	c.lastDepositor = agentID
	return nil
}

// Intensity returns the current intensity of sig at loc.
func (f *Field) Intensity(loc Location, sig Signal) float64 {
	l := f.layer(sig, false)
	if l == nil {
		return 0
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if c := l.cells[loc]; c != nil {
		return c.intensity
	}
	return 0
}

// DecayPheromones multiplies every intensity by (1 - DecayRate) and prunes
// cells that fall below PruneThreshold. It returns the number pruned.
func (f *Field) DecayPheromones() int {
	keep := 1 - f.config.DecayRate
	pruned := 0
	for _, l := range f.snapshotLayers() {
		l.mu.Lock()
		for loc, c := range l.cells {
			c.intensity *= keep
			if c.intensity <= 0 || c.intensity < f.config.PruneThreshold {
				delete(l.cells, loc)
				pruned++
			}
		}
		l.mu.Unlock()
	}
	return pruned
}

// DiffusePheromones moves DiffusionRate of each cell's intensity to its
// in-bounds von Neumann neighbours, split evenly. All cells of a layer
// diffuse from the same pre-step state, so total intensity is unchanged.
func (f *Field) DiffusePheromones() {
	rate := f.config.DiffusionRate
	if rate == 0 {
		return
	}
	now := f.now()
	for _, l := range f.snapshotLayers() {
		l.mu.Lock()
		delta := make(map[Location]float64, len(l.cells)*5)
		for loc, c := range l.cells {
			targets := make([]Location, 0, len(neighbours))
			for _, d := range neighbours {
				if n := loc.Step(d); f.inBounds(n) {
					targets = append(targets, n)
				}
			}
			if len(targets) == 0 || c.intensity <= 0 {
				continue
			}
			out := c.intensity * rate
			share := out / float64(len(targets))
			delta[loc] -= out
			for _, n := range targets {
				delta[n] += share
			}
		}
		for loc, d := range delta {
			c := l.cells[loc]
			if c == nil {
				c = &cellState{lastTouched: now}
				l.cells[loc] = c
			}
			c.intensity += d
			if c.intensity < 0 {
				c.intensity = 0
			}
		}
		l.mu.Unlock()
	}
}

// FollowGradient returns the direction of the neighbour carrying the most
// sig. Ties resolve North, East, South, West; Stay means no neighbour
// carries any signal.
func (f *Field) FollowGradient(loc Location, sig Signal) Direction {
	l := f.layer(sig, false)
	if l == nil {
		return Stay
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	best, bestVal := Stay, 0.0
	for _, d := range neighbours {
		n := loc.Step(d)
		if !f.inBounds(n) {
			continue
		}
		if c := l.cells[n]; c != nil && c.intensity > bestVal {
			best, bestVal = d, c.intensity
		}
	}
	return best
}

// Cycle runs one decay step followed by one diffusion step.
func (f *Field) Cycle() {
	pruned := f.DecayPheromones()
	f.DiffusePheromones()
	if pruned > 0 {
		f.logger.Debug("pheromone cells pruned", zap.Int("count", pruned))
	}
}

// Run cycles the field every CycleInterval until ctx is done.
func (f *Field) Run(ctx context.Context) error {
	if f.config.CycleInterval <= 0 {
		return nil
	}
	ticker := time.NewTicker(f.config.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			f.Cycle()
		}
	}
}

// CellCounts returns the number of live cells per signal.
func (f *Field) CellCounts() map[Signal]int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[Signal]int, len(f.layers))
	for sig, l := range f.layers {
		l.mu.RLock()
		out[sig] = len(l.cells)
		l.mu.RUnlock()
	}
	return out
}

// TotalIntensity returns the summed intensity of sig across the field.
func (f *Field) TotalIntensity(sig Signal) float64 {
	l := f.layer(sig, false)
	if l == nil {
		return 0
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := 0.0
	for _, c := range l.cells {
		total += c.intensity
	}
	return total
}

// Cells returns a copy of every cell, ordered by signal, then X, then Y.
func (f *Field) Cells() []Cell {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []Cell
	for sig, l := range f.layers {
		l.mu.RLock()
		for loc, c := range l.cells {
			out = append(out, Cell{
				Location:      loc,
				Signal:        sig,
				Intensity:     c.intensity,
				LastTouched:   c.lastTouched,
				LastDepositor: c.lastDepositor,
			})
		}
		l.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Signal != b.Signal {
			return a.Signal < b.Signal
		}
		if a.Location.X != b.Location.X {
			return a.Location.X < b.Location.X
		}
		return a.Location.Y < b.Location.Y
	})
	return out
}

// Restore replaces the field contents with cells. Layers are refilled in
// place, so a deposit racing with Restore lands either before it (and is
// replaced) or after it, never on a detached layer.
func (f *Field) Restore(ctx context.Context, cells []Cell) error {
	layers := make(map[Signal]*layer)
	for _, c := range cells {
		if c.Signal == "" || !(c.Intensity >= 0) || math.IsInf(c.Intensity, 1) {
			return f.fail(ctx, "restore", types.Validationf("invalid cell at (%d,%d)", c.Location.X, c.Location.Y))
		}
		l := layers[c.Signal]
		if l == nil {
			l = &layer{cells: make(map[Location]*cellState)}
			layers[c.Signal] = l
		}
		l.cells[c.Location] = &cellState{
			intensity:     c.Intensity,
			lastTouched:   c.LastTouched,
			lastDepositor: c.LastDepositor,
		}
	}

	f.mu.Lock()
	for sig, l := range f.layers {
		fresh := layers[sig]
		delete(layers, sig)
		l.mu.Lock()
		if fresh != nil {
			l.cells = fresh.cells
		} else {
			l.cells = make(map[Location]*cellState)
		}
		l.mu.Unlock()
	}
	for sig, l := range layers {
		f.layers[sig] = l
	}
	f.mu.Unlock()
	f.logger.Info("field restored", zap.Int("cells", len(cells)))
	return nil
}

func (f *Field) fail(ctx context.Context, op string, err error) error {
	f.sink.Emit(ctx, audit.ErrorEvent(component, op, err))
	return err
}
