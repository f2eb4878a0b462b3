package schema

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/errors"
)

// Registry holds schema descriptors keyed by (id, version).
type Registry struct {
	descriptors map[string]*Descriptor
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		descriptors: make(map[string]*Descriptor),
		logger:      logger,
	}
}

// Register validates and stores a descriptor. Registering the same
// (id, version) twice is an error; schemas are immutable once published.
func (r *Registry) Register(d *Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := d.Key()
	if _, exists := r.descriptors[key]; exists {
		return errors.Newf(errors.ErrorTypeSchema, "schema %s already registered", key)
	}
	r.descriptors[key] = d

	r.logger.Info("registered schema",
		zap.String("id", d.ID),
		zap.String("version", d.Version),
		zap.Int("columns", len(d.ColumnOrder)))
	return nil
}

// Get looks up a descriptor by id and version.
func (r *Registry) Get(id, version string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.descriptors[descriptorKey(id, version)]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeSchema, "schema %s@%s not registered", id, version)
	}
	return d, nil
}

// Versions lists the registered versions of one schema id, sorted.
func (r *Registry) Versions(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var versions []string
	for _, d := range r.descriptors {
		if d.ID == id {
			versions = append(versions, d.Version)
		}
	}
	sort.Strings(versions)
	return versions
}
