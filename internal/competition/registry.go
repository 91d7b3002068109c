package competition

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/arena-engine/internal/instrument"
	"github.com/atmx/arena-engine/internal/model"
)

// DefaultID is the id of the competition created by EnsureDefault.
const DefaultID = "default_competition"

// Defaults are applied to every competition the registry creates when the
// config leaves them unset.
type Defaults struct {
	MaxParticipants int
	StartingCash    decimal.Decimal
	FallbackMark    decimal.Decimal
	Duration        time.Duration
	Clock           func() time.Time
}

// Registry holds all competitions by id. Its lock only guards the map; each
// competition serializes its own operations.
type Registry struct {
	mu       sync.RWMutex
	comps    map[string]*Competition
	defaults Defaults
}

// NewRegistry creates an empty registry.
func NewRegistry(defaults Defaults) *Registry {
	if defaults.Duration <= 0 {
		defaults.Duration = time.Hour
	}
	if defaults.Clock == nil {
		defaults.Clock = time.Now
	}
	return &Registry{
		comps:    make(map[string]*Competition),
		defaults: defaults,
	}
}

// Create builds and registers a competition. Zero StartTime means now and
// zero EndTime means StartTime plus the default duration.
func (r *Registry) Create(cfg Config) (*Competition, error) {
	if cfg.MaxParticipants < 0 {
		return nil, fmt.Errorf("%w: max participants must not be negative", ErrInvalidOrder)
	}
	if cfg.StartTime.IsZero() {
		cfg.StartTime = r.defaults.Clock()
	}
	if cfg.EndTime.IsZero() {
		cfg.EndTime = cfg.StartTime.Add(r.defaults.Duration)
	}
	if cfg.MaxParticipants == 0 {
		cfg.MaxParticipants = r.defaults.MaxParticipants
	}
	if cfg.StartingCash.IsZero() {
		cfg.StartingCash = r.defaults.StartingCash
	}
	if cfg.FallbackMark.IsZero() {
		cfg.FallbackMark = r.defaults.FallbackMark
	}
	if cfg.Clock == nil {
		cfg.Clock = r.defaults.Clock
	}

	c, err := New(cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.comps[c.id]; exists {
		return nil, fmt.Errorf("%w: competition %s already exists", ErrAlreadyExists, c.id)
	}
	r.comps[c.id] = c
	return c, nil
}

// EnsureDefault returns the default competition, creating it with the
// default instruments if needed.
func (r *Registry) EnsureDefault() (*Competition, error) {
	if c, err := r.Get(DefaultID); err == nil {
		return c, nil
	}
	c, err := r.Create(Config{
		ID:          DefaultID,
		Name:        "Default Competition",
		Instruments: instrument.Defaults(),
	})
	if err != nil {
		// Lost a creation race.
		if existing, getErr := r.Get(DefaultID); getErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return c, nil
}

// Get looks up a competition.
func (r *Registry) Get(id string) (*Competition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.comps[id]
	if !ok {
		return nil, fmt.Errorf("%w: competition %s", ErrNotFound, id)
	}
	return c, nil
}

// List describes every competition, newest start first.
func (r *Registry) List() []model.CompetitionInfo {
	r.mu.RLock()
	comps := make([]*Competition, 0, len(r.comps))
	for _, c := range r.comps {
		comps = append(comps, c)
	}
	r.mu.RUnlock()

	infos := make([]model.CompetitionInfo, 0, len(comps))
	for _, c := range comps {
		infos = append(infos, c.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].StartTime.Equal(infos[j].StartTime) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].StartTime.After(infos[j].StartTime)
	})
	return infos
}

// Active counts competitions currently accepting orders.
func (r *Registry) Active() int {
	n := 0
	for _, info := range r.List() {
		if info.Active {
			n++
		}
	}
	return n
}
