package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/cryguy/jsbridge/internal/core"
	"github.com/cryguy/jsbridge/internal/scriptcache"
	"go.uber.org/zap"
)

type platformState int

const (
	platformUninitialized platformState = iota
	platformReady
	platformShuttingDown
	platformShutdown
)

func (s platformState) String() string {
	switch s {
	case platformUninitialized:
		return "uninitialized"
	case platformReady:
		return "ready"
	case platformShuttingDown:
		return "shutting down"
	case platformShutdown:
		return "shut down"
	}
	return "unknown"
}

// Platform is the process-wide engine registry. It initializes the
// backend once, issues instance IDs and tears everything down on
// Shutdown. A Platform cannot be re-initialized after shutdown.
type Platform struct {
	backend core.Backend

	mu        sync.Mutex
	state     platformState
	cfg       core.PlatformConfig
	cache     scriptcache.Store
	instances map[uint64]*Instance
	nextID    uint64
}

// NewPlatform returns an uninitialized platform driving backend.
func NewPlatform(backend core.Backend) *Platform {
	return &Platform{
		backend:   backend,
		instances: make(map[uint64]*Instance),
		nextID:    1,
	}
}

// Backend returns the engine name.
func (p *Platform) Backend() string {
	return p.backend.Name()
}

// Initialize prepares the platform. Calling it again with an equal config
// is a no-op; a different config fails with ConfigurationConflict.
func (p *Platform) Initialize(cfg core.PlatformConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initLocked(cfg)
}

func (p *Platform) initLocked(cfg core.PlatformConfig) error {
	switch p.state {
	case platformReady:
		if cfg != p.cfg {
			return core.NewError(core.KindConfigurationConflict, "platform already initialized with a different configuration")
		}
		return nil
	case platformShuttingDown, platformShutdown:
		return core.NewError(core.KindEngineDisposed, "platform is %s", p.state)
	}

	if cfg.Backend != "" && cfg.Backend != p.backend.Name() {
		return core.NewError(core.KindConfigurationConflict, "backend %q requested but %q is compiled in", cfg.Backend, p.backend.Name())
	}
	if err := cfg.Defaults.Validate(); err != nil {
		return core.WrapError(core.KindConfigurationConflict, err, "invalid instance defaults")
	}

	// Probe the backend so a broken engine fails here instead of on the
	// first CreateInstance.
	probe, err := p.backend.NewRuntime(core.Config{})
	if err != nil {
		return core.WrapError(core.KindConfigurationConflict, err, "starting %s", p.backend.Name())
	}
	_ = probe.Close()

	var cache scriptcache.Store
	if cfg.CacheDir != "" {
		cache, err = scriptcache.OpenSQLite(cfg.CacheDir, cfg.CacheEntries)
		if err != nil {
			return core.WrapError(core.KindConfigurationConflict, err, "opening script cache")
		}
	} else {
		cache = scriptcache.NewMemory(cfg.CacheEntries)
	}

	p.cfg = cfg
	p.cache = cache
	p.state = platformReady
	core.Logger().Info("platform initialized",
		zap.String("backend", p.backend.Name()),
		zap.String("cacheDir", cfg.CacheDir),
		zap.Int("cacheEntries", cfg.CacheEntries),
	)
	return nil
}

// Ready reports whether the platform is initialized and not shut down.
func (p *Platform) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == platformReady
}

// Config returns the platform configuration in effect.
func (p *Platform) Config() core.PlatformConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// CreateInstance starts a new instance. Zero-valued fields of cfg are
// taken from the platform defaults. An uninitialized platform is
// initialized with core.DefaultPlatformConfig first.
func (p *Platform) CreateInstance(cfg core.Config) (*Instance, error) {
	p.mu.Lock()
	if p.state == platformUninitialized {
		if err := p.initLocked(core.DefaultPlatformConfig()); err != nil {
			p.mu.Unlock()
			return nil, err
		}
	}
	if p.state != platformReady {
		state := p.state
		p.mu.Unlock()
		return nil, core.NewError(core.KindEngineDisposed, "platform is %s", state)
	}
	cfg = cfg.WithDefaults(p.cfg.Defaults)
	if err := cfg.Validate(); err != nil {
		p.mu.Unlock()
		return nil, core.WrapError(core.KindConfigurationConflict, err, "invalid instance configuration")
	}
	id := p.nextID
	p.nextID++
	cache := p.cache
	p.mu.Unlock()

	in, err := newInstance(id, cfg, p.backend, cache)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.state != platformReady {
		p.mu.Unlock()
		in.dispose()
		return nil, core.NewError(core.KindEngineDisposed, "platform shut down while creating instance")
	}
	p.instances[id] = in
	p.mu.Unlock()

	core.Logger().Debug("instance created",
		zap.Uint64("instance", id),
		zap.Int64("maxHeapBytes", cfg.MaxHeapBytes),
		zap.Int64("executionTimeoutMs", cfg.ExecutionTimeoutMs),
	)
	return in, nil
}

// Instance looks up a live instance. IDs that were issued but disposed
// yield EngineDisposed; IDs never issued yield InvalidHandle.
func (p *Platform) Instance(id uint64) (*Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if in, ok := p.instances[id]; ok {
		return in, nil
	}
	if id == 0 || id >= p.nextID {
		return nil, core.NewError(core.KindInvalidHandle, "unknown instance %d", id)
	}
	return nil, core.NewError(core.KindEngineDisposed, "instance %d is disposed", id)
}

// Instances returns the IDs of live instances in ascending order.
func (p *Platform) Instances() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]uint64, 0, len(p.instances))
	for id := range p.instances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// DisposeInstance disposes the instance with the given ID. A call in
// progress is interrupted and waited for. Disposing an already disposed
// instance is a no-op.
func (p *Platform) DisposeInstance(id uint64) error {
	p.mu.Lock()
	in, ok := p.instances[id]
	if !ok {
		issued := id != 0 && id < p.nextID
		p.mu.Unlock()
		if issued {
			return nil
		}
		return core.NewError(core.KindInvalidHandle, "unknown instance %d", id)
	}
	delete(p.instances, id)
	p.mu.Unlock()

	in.dispose()
	return nil
}

// Shutdown disposes every instance and releases the platform. A second
// Shutdown fails with NotReady.
func (p *Platform) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.state != platformReady {
		state := p.state
		p.mu.Unlock()
		return core.NewError(core.KindNotReady, "platform is %s", state)
	}
	p.state = platformShuttingDown
	live := make([]*Instance, 0, len(p.instances))
	for _, in := range p.instances {
		live = append(live, in)
	}
	p.instances = make(map[uint64]*Instance)
	cache := p.cache
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, in := range live {
			wg.Add(1)
			go func(in *Instance) {
				defer wg.Done()
				in.dispose()
			}(in)
		}
		wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = core.WrapError(core.KindTimeout, ctx.Err(), "waiting for %d instance(s) to dispose", len(live))
	}

	if cache != nil {
		if cerr := cache.Close(); cerr != nil {
			core.Logger().Warn("closing script cache", zap.Error(cerr))
		}
	}

	p.mu.Lock()
	p.state = platformShutdown
	p.cache = nil
	p.mu.Unlock()
	core.Logger().Info("platform shut down", zap.Int("instances", len(live)))
	return err
}
