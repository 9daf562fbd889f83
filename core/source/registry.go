package source

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/ftl/panaweb/core"
)

// Constructor creates a new device from the given parameters.
type Constructor func(Parameters) Device

// Registry is a Factory that knows the built-in sources and any further registered source.
type Registry struct {
	lock         *sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry returns a registry that knows the built-in sources.
func NewRegistry() *Registry {
	result := &Registry{
		lock:         new(sync.RWMutex),
		constructors: make(map[string]Constructor),
	}
	result.Register(core.NullSourceID, NewNull)
	result.Register(NoiseID, NewNoise)
	result.Register(ToneID, NewTone)
	result.Register(SweepID, NewSweep)
	return result
}

// Register the given constructor for the given source id. A previous registration is replaced.
func (r *Registry) Register(id string, constructor Constructor) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.constructors[id] = constructor
}

// IDs of all registered sources in alphabetical order.
func (r *Registry) IDs() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	result := make([]string, 0, len(r.constructors))
	for id := range r.constructors {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

// Create a device. Unknown ids create a device that fails to open.
func (r *Registry) Create(id, params, format string, sampleRate, centreFreq, bandwidth int) Device {
	p := Parameters{
		ID:         id,
		Params:     params,
		Format:     format,
		SampleRate: sampleRate,
		CentreFreq: centreFreq,
		Bandwidth:  bandwidth,
	}

	r.lock.RLock()
	constructor, ok := r.constructors[id]
	r.lock.RUnlock()
	if !ok {
		return &unknown{settings: newSettings(p)}
	}
	return constructor(p)
}

type unknown struct {
	settings
}

func (u *unknown) Open() error {
	return errors.Wrap(ErrInvalidConfiguration, "no such source")
}

func (u *unknown) Close() error {
	return nil
}

func (u *unknown) NextSampleBlock(context.Context, int) (core.SampleBlock, error) {
	return nil, ErrNotOpen
}
