package whisper

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Policy controls how many handles the registry keeps resident.
type Policy string

const (
	// MultiResident caches every size ever requested for the process lifetime.
	MultiResident Policy = "multi"
	// SingleResident keeps one handle; loading another size evicts it.
	SingleResident Policy = "single"
)

// ParsePolicy maps a config value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case MultiResident, SingleResident:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("unknown model policy %q", s)
	}
}

// Handle identifies one loaded model instance.
type Handle struct {
	Size     Size
	Device   Device
	Model    string // model identifier for logs and results
	Weights  string // local weights path; empty for remote backends
	LoadedAt time.Time
}

// Loader performs the heavyweight load of a model.
type Loader interface {
	Load(ctx context.Context, size Size, device Device) (*Handle, error)
}

// Unloader is optionally implemented by loaders that hold resources per handle.
type Unloader interface {
	Unload(h *Handle)
}

type key struct {
	size   Size
	device Device
}

func (k key) String() string { return string(k.size) + "/" + string(k.device) }

// Registry provides get-or-load semantics over model handles keyed by
// (size, device). Concurrent first requests for a key share a single load.
type Registry struct {
	loader Loader
	policy Policy
	device Device
	log    zerolog.Logger

	mu       sync.Mutex
	handles  map[key]*Handle
	inflight singleflight.Group
	loads    atomic.Int64

	// OnLoad is called after every completed load with its duration.
	OnLoad func(size Size, d time.Duration)
}

// NewRegistry creates an empty registry bound to one device.
func NewRegistry(loader Loader, policy Policy, device Device, log zerolog.Logger) *Registry {
	return &Registry{
		loader:  loader,
		policy:  policy,
		device:  device,
		log:     log.With().Str("component", "model-registry").Logger(),
		handles: make(map[key]*Handle),
	}
}

// Get returns the resident handle for size, loading it on first use.
func (r *Registry) Get(ctx context.Context, size Size) (*Handle, error) {
	k := key{size: size, device: r.device}

	r.mu.Lock()
	if h, ok := r.handles[k]; ok {
		r.mu.Unlock()
		return h, nil
	}
	r.mu.Unlock()

	v, err, _ := r.inflight.Do(k.String(), func() (any, error) {
		// Re-check: a previous flight may have stored it between our miss and Do.
		r.mu.Lock()
		if h, ok := r.handles[k]; ok {
			r.mu.Unlock()
			return h, nil
		}
		r.mu.Unlock()

		start := time.Now()
		r.log.Info().Str("size", string(size)).Str("device", string(r.device)).Msg("loading model")
		h, err := r.loader.Load(ctx, size, r.device)
		if err != nil {
			return nil, err
		}
		r.loads.Add(1)
		elapsed := time.Since(start)
		if r.OnLoad != nil {
			r.OnLoad(size, elapsed)
		}
		r.log.Info().Str("size", string(size)).Str("model", h.Model).Dur("duration_ms", elapsed).Msg("model loaded")

		r.store(k, h)
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

func (r *Registry) store(k key, h *Handle) {
	r.mu.Lock()
	var evicted []*Handle
	if r.policy == SingleResident {
		for other, old := range r.handles {
			if other != k {
				evicted = append(evicted, old)
				delete(r.handles, other)
			}
		}
	}
	r.handles[k] = h
	r.mu.Unlock()

	for _, old := range evicted {
		r.log.Info().Str("size", string(old.Size)).Str("replaced_by", string(h.Size)).Msg("evicting resident model")
		if u, ok := r.loader.(Unloader); ok {
			u.Unload(old)
		}
	}
}

// Resident returns the currently loaded handles sorted by size order.
func (r *Registry) Resident() []*Handle {
	r.mu.Lock()
	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	r.mu.Unlock()

	rank := make(map[Size]int, len(Sizes))
	for i, s := range Sizes {
		rank[s] = i
	}
	sort.Slice(out, func(i, j int) bool { return rank[out[i].Size] < rank[out[j].Size] })
	return out
}

// Loads returns how many loads the registry has performed.
func (r *Registry) Loads() int64 { return r.loads.Load() }

// Policy returns the residency policy.
func (r *Registry) Policy() Policy { return r.policy }

// Device returns the device every handle is placed on.
func (r *Registry) Device() Device { return r.device }
