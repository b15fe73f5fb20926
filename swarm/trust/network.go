package trust

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/internal/shard"
	"github.com/BaSui01/agentswarm/swarm/audit"
	"github.com/BaSui01/agentswarm/types"
)

const component = "trust"

// Config holds the trust network tuning knobs.
type Config struct {
	// InitialScore is the value of a pair before its first observation.
	InitialScore float64 `yaml:"initial_score" env:"INITIAL_SCORE" json:"initial_score"`

	// SuccessGain is the fraction of the remaining distance to 1 a success closes.
	SuccessGain float64 `yaml:"success_gain" env:"SUCCESS_GAIN" json:"success_gain"`

	// TimeoutPenalty is subtracted on a timeout.
	TimeoutPenalty float64 `yaml:"timeout_penalty" env:"TIMEOUT_PENALTY" json:"timeout_penalty"`

	// PartialFailureFactor scales the error rate subtracted on a partial failure.
	PartialFailureFactor float64 `yaml:"partial_failure_factor" env:"PARTIAL_FAILURE_FACTOR" json:"partial_failure_factor"`

	// ConfidenceZ scales the lower-bound margin of ConservativeScore.
	ConfidenceZ float64 `yaml:"confidence_z" env:"CONFIDENCE_Z" json:"confidence_z"`

	// HistorySize bounds the per-pair observation history.
	HistorySize int `yaml:"history_size" env:"HISTORY_SIZE" json:"history_size"`

	// CacheSize bounds the transitive trust memo.
	CacheSize int `yaml:"cache_size" env:"CACHE_SIZE" json:"cache_size"`

	// DecayMaxAge is the age after which scores drift back toward neutral.
	DecayMaxAge time.Duration `yaml:"decay_max_age" env:"DECAY_MAX_AGE" json:"decay_max_age"`

	// DecayInterval is how often the background decay runs; zero disables it.
	DecayInterval time.Duration `yaml:"decay_interval" env:"DECAY_INTERVAL" json:"decay_interval"`

	Shards int `yaml:"shards" env:"SHARDS" json:"shards"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		InitialScore:         Neutral,
		SuccessGain:          0.8,
		TimeoutPenalty:       0.3,
		PartialFailureFactor: 0.5,
		ConfidenceZ:          1.0,
		HistorySize:          32,
		CacheSize:            1024,
		DecayMaxAge:          24 * time.Hour,
		DecayInterval:        time.Hour,
		Shards:               32,
	}
}

// Directory reports whether an agent ID is known.
type Directory interface {
	Has(id string) bool
}

type pair struct {
	score   Score
	history []Observation
}

// Network keeps per-(observer, subject) trust scores. Updates to one pair are
// atomic read-modify-writes on its lock stripe, so concurrent observations of
// the same pair are never lost.
type Network struct {
	pairs      *shard.Map[pair]
	bySubject  *shard.Map[map[string]struct{}] // subject -> observers
	byObserver *shard.Map[map[string]struct{}] // observer -> subjects

	cache      *lru.ARCCache
	generation atomic.Uint64

	directory Directory
	sink      audit.Sink
	config    Config
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Network.
type Option func(*Network)

// WithDirectory requires observation subjects to be known agents.
func WithDirectory(d Directory) Option {
	return func(n *Network) { n.directory = d }
}

// WithAuditSink sets the audit sink.
func WithAuditSink(s audit.Sink) Option {
	return func(n *Network) { n.sink = audit.OrNop(s) }
}

// New creates an empty trust network.
func New(config Config, logger *zap.Logger, opts ...Option) (*Network, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.InitialScore < 0 || config.InitialScore > 1 {
		return nil, types.Validationf("initial trust score %v outside [0,1]", config.InitialScore)
	}
	if config.CacheSize <= 0 {
		config.CacheSize = DefaultConfig().CacheSize
	}
	cache, err := lru.NewARC(config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create transitive trust cache: %w", err)
	}

	n := &Network{
		pairs:      shard.New[pair](config.Shards),
		bySubject:  shard.New[map[string]struct{}](config.Shards),
		byObserver: shard.New[map[string]struct{}](config.Shards),
		cache:      cache,
		sink:       audit.Nop{},
		config:     config,
		logger:     logger.With(zap.String("component", component)),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Observe applies one observation and returns the updated score.
func (n *Network) Observe(ctx context.Context, obs Observation) (Score, error) {
	if err := n.validate(obs); err != nil {
		return Score{}, n.fail(ctx, "observe", err)
	}
	if obs.Timestamp.IsZero() {
		obs.Timestamp = n.now()
	}

	var updated Score
	created := false
	_ = n.pairs.Update(pairKey(obs.Observer, obs.Subject), func(cur pair, exists bool) (pair, bool, error) {
		if !exists {
			created = true
			cur.score = Score{Value: n.config.InitialScore}
		}
		cur.score.Value = n.apply(cur.score.Value, obs.Outcome)
		cur.score.Confidence++
		cur.score.Samples++
		if obs.Timestamp.After(cur.score.LastUpdated) {
			cur.score.LastUpdated = obs.Timestamp
		}
		cur.history = appendBounded(cur.history, obs, n.config.HistorySize)
		updated = cur.score
		return cur, true, nil
	})
	if created {
		link(n.bySubject, obs.Subject, obs.Observer)
		link(n.byObserver, obs.Observer, obs.Subject)
	}
	n.invalidate()

	n.sink.Emit(ctx, audit.NewEvent(audit.EventTrustObserved, component, map[string]any{
		"observer":         obs.Observer,
		audit.FieldAgentID: obs.Subject,
		audit.FieldOutcome: string(obs.Outcome.Kind),
		"score":            updated.Value,
	}))
	return updated, nil
}

// apply computes the outcome-specific adjustment, clamped to [0,1].
func (n *Network) apply(s float64, o Outcome) float64 {
	switch o.Kind {
	case OutcomeSuccess:
		s += n.config.SuccessGain * (1 - s)
	case OutcomeTimeout:
		s -= n.config.TimeoutPenalty
	case OutcomePartialFailure:
		s -= n.config.PartialFailureFactor * o.ErrorRate
	case OutcomeCompleteFailure:
		s = 0
	}
	return clamp01(s)
}

// Score returns the raw score observer holds for subject. A pair that was
// never observed reports the initial score with zero confidence.
func (n *Network) Score(observer, subject string) Score {
	p, ok := n.pairs.Get(pairKey(observer, subject))
	if !ok {
		return Score{Value: n.config.InitialScore}
	}
	return p.score
}

// History returns the retained observations for a pair, oldest first.
func (n *Network) History(observer, subject string) []Observation {
	var out []Observation
	n.pairs.View(pairKey(observer, subject), func(p pair, ok bool) {
		if ok {
			out = append([]Observation(nil), p.history...)
		}
	})
	return out
}

// ConservativeScore aggregates every observer's view of subject into a lower
// confidence bound: the confidence-weighted mean minus
// ConfidenceZ × 0.5/√(n+1), where n is the total effective sample weight.
// Sparse evidence therefore yields a low score.
func (n *Network) ConservativeScore(subject string) float64 {
	var sum, weight float64
	for _, observer := range members(n.bySubject, subject) {
		p, ok := n.pairs.Get(pairKey(observer, subject))
		if !ok || p.score.Confidence <= 0 {
			continue
		}
		sum += p.score.Value * p.score.Confidence
		weight += p.score.Confidence
	}

	mean := n.config.InitialScore
	if weight > 0 {
		mean = sum / weight
	}
	margin := n.config.ConfidenceZ * 0.5 / math.Sqrt(weight+1)
	return clamp01(mean - margin)
}

// TransitiveTrust returns the strongest trust a places in z through chains of
// at most maxDepth observed hops, computed as the product of hop scores.
// It returns 0 when no such chain exists and 1 when a == z.
func (n *Network) TransitiveTrust(a, z string, maxDepth int) float64 {
	if a == z {
		return 1
	}
	if maxDepth <= 0 || a == "" || z == "" {
		return 0
	}

	key := fmt.Sprintf("%d\x00%s\x00%s\x00%d", n.generation.Load(), a, z, maxDepth)
	if v, ok := n.cache.Get(key); ok {
		return v.(float64)
	}

	best := map[string]float64{a: 1}
	frontier := map[string]float64{a: 1}
	result := 0.0
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		next := make(map[string]float64)
		for node, val := range frontier {
			for _, subject := range members(n.byObserver, node) {
				p, ok := n.pairs.Get(pairKey(node, subject))
				if !ok || p.score.Samples == 0 {
					continue
				}
				v := val * p.score.Value
				if subject == z {
					if v > result {
						result = v
					}
					continue
				}
				if v > best[subject] {
					best[subject] = v
					next[subject] = v
				}
			}
		}
		frontier = next
	}

	n.cache.Add(key, result)
	return result
}

// DecayOldScores pulls every score last updated more than maxAge ago toward
// Neutral with weight maxAge/age, scaling confidence by the same weight.
// Sample counts and history are kept. It returns the number of pairs decayed.
func (n *Network) DecayOldScores(maxAge time.Duration, now time.Time) int {
	if maxAge <= 0 {
		return 0
	}

	var stale []string
	n.pairs.Range(func(key string, p pair) bool {
		if now.Sub(p.score.LastUpdated) > maxAge {
			stale = append(stale, key)
		}
		return true
	})

	decayed := 0
	for _, key := range stale {
		_ = n.pairs.Update(key, func(cur pair, exists bool) (pair, bool, error) {
			if !exists {
				return cur, false, nil
			}
			age := now.Sub(cur.score.LastUpdated)
			if age <= maxAge {
				return cur, true, nil
			}
			w := float64(maxAge) / float64(age)
			cur.score.Value = clamp01(Neutral + (cur.score.Value-Neutral)*w)
			cur.score.Confidence *= w
			decayed++
			return cur, true, nil
		})
	}
	if decayed > 0 {
		n.invalidate()
		n.logger.Debug("trust scores decayed", zap.Int("pairs", decayed), zap.Duration("max_age", maxAge))
	}
	return decayed
}

// Entries returns every pair score, sorted by observer then subject.
func (n *Network) Entries() []Entry {
	var out []Entry
	n.pairs.Range(func(key string, p pair) bool {
		observer, subject := splitKey(key)
		out = append(out, Entry{Observer: observer, Subject: subject, Score: p.score})
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Observer != out[j].Observer {
			return out[i].Observer < out[j].Observer
		}
		return out[i].Subject < out[j].Subject
	})
	return out
}

// Restore loads pair scores from a snapshot, replacing existing pairs.
func (n *Network) Restore(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if e.Observer == "" || e.Subject == "" || !(e.Score.Value >= 0 && e.Score.Value <= 1) || !finite(e.Score.Confidence) {
			return n.fail(ctx, "restore", types.Validationf("invalid trust entry %s -> %s", e.Observer, e.Subject))
		}
		n.pairs.Store(pairKey(e.Observer, e.Subject), pair{score: e.Score})
		link(n.bySubject, e.Subject, e.Observer)
		link(n.byObserver, e.Observer, e.Subject)
	}
	n.invalidate()
	n.logger.Info("trust network restored", zap.Int("pairs", len(entries)))
	return nil
}

func (n *Network) validate(obs Observation) error {
	switch {
	case obs.Observer == "" || obs.Subject == "":
		return types.Validationf("observation needs both observer and subject")
	case obs.Observer == obs.Subject:
		return types.Validationf("agent %s cannot observe itself", obs.Subject)
	}
	if err := obs.Outcome.Validate(); err != nil {
		return err
	}
	if n.directory != nil && !n.directory.Has(obs.Subject) {
		return types.NotFoundf("subject agent %s not found", obs.Subject)
	}
	return nil
}

func (n *Network) invalidate() {
	n.generation.Add(1)
	n.cache.Purge()
}

func (n *Network) fail(ctx context.Context, op string, err error) error {
	n.sink.Emit(ctx, audit.ErrorEvent(component, op, err))
	return err
}

func pairKey(observer, subject string) string {
	return observer + "\x00" + subject
}

func splitKey(key string) (string, string) {
	observer, subject, _ := strings.Cut(key, "\x00")
	return observer, subject
}

func link(m *shard.Map[map[string]struct{}], key, member string) {
	_ = m.Update(key, func(set map[string]struct{}, exists bool) (map[string]struct{}, bool, error) {
		if !exists {
			set = make(map[string]struct{})
		}
		set[member] = struct{}{}
		return set, true, nil
	})
}

func members(m *shard.Map[map[string]struct{}], key string) []string {
	var out []string
	m.View(key, func(set map[string]struct{}, ok bool) {
		if !ok {
			return
		}
		out = make([]string, 0, len(set))
		for k := range set {
			out = append(out, k)
		}
	})
	sort.Strings(out)
	return out
}

func appendBounded(h []Observation, obs Observation, limit int) []Observation {
	if limit <= 0 {
		return h
	}
	h = append(h, obs)
	if len(h) > limit {
		h = append([]Observation(nil), h[len(h)-limit:]...)
	}
	return h
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
