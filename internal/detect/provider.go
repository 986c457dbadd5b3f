package detect

import (
	"fmt"
	"sync"

	"github.com/visionward/sitewatch/internal/logger"
)

// Builder constructs the detector for a category. Construction may be
// expensive (model warm-up on the inference side), which is why the
// provider defers it until first use.
type Builder func(category Category) (Detector, error)

// Provider lazily constructs and caches detectors by category. A
// per-category lock prevents duplicate concurrent construction while
// leaving other categories unblocked.
type Provider struct {
	build  Builder
	logger *logger.Logger

	mu        sync.Mutex
	detectors map[Category]Detector
	building  map[Category]*sync.Mutex
}

// NewProvider creates a lazy detector provider
func NewProvider(build Builder, log *logger.Logger) *Provider {
	return &Provider{
		build:     build,
		logger:    log,
		detectors: make(map[Category]Detector),
		building:  make(map[Category]*sync.Mutex),
	}
}

// Get returns the detector for a category, constructing it on first
// use. Concurrent callers for the same category wait for one
// construction; a failed construction is retried on the next call.
func (p *Provider) Get(category Category) (Detector, error) {
	p.mu.Lock()
	if detector, ok := p.detectors[category]; ok {
		p.mu.Unlock()
		return detector, nil
	}
	lock, ok := p.building[category]
	if !ok {
		lock = &sync.Mutex{}
		p.building[category] = lock
	}
	p.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	// Another caller may have finished construction while we waited.
	p.mu.Lock()
	if detector, ok := p.detectors[category]; ok {
		p.mu.Unlock()
		return detector, nil
	}
	p.mu.Unlock()

	detector, err := p.build(category)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s detector: %w", category, err)
	}

	p.mu.Lock()
	p.detectors[category] = detector
	p.mu.Unlock()

	p.logger.Info("Detector constructed", "category", category)
	return detector, nil
}

// Cached reports whether a category's detector has been constructed
func (p *Provider) Cached(category Category) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.detectors[category]
	return ok
}
