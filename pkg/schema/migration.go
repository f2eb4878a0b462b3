package schema

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/errors"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/models"
)

// MigrationFunc transforms one record from one schema version to the next.
// Implementations receive a private copy and may mutate it freely.
type MigrationFunc func(rec models.Record) (models.Record, error)

// Migration is one registered edge in a schema's version graph.
type Migration struct {
	SchemaID    string
	FromVersion string
	ToVersion   string
	Apply       MigrationFunc
}

// VersionMismatchError reports data arriving at a version the pipeline does
// not expect and cannot migrate.
type VersionMismatchError struct {
	SchemaID string
	Found    string
	Expected string
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("schema %s: data is at version %s, expected %s", e.SchemaID, e.Found, e.Expected)
}

// MigrationPathError reports that no migration chain connects two versions.
type MigrationPathError struct {
	SchemaID string
	From     string
	To       string
	MaxHops  int
}

func (e *MigrationPathError) Error() string {
	if e.MaxHops > 0 {
		return fmt.Sprintf("schema %s: no migration path from %s to %s within %d hops", e.SchemaID, e.From, e.To, e.MaxHops)
	}
	return fmt.Sprintf("schema %s: no migration path from %s to %s", e.SchemaID, e.From, e.To)
}

// MigrationRegistry holds the version graph per schema id. The graph is
// kept acyclic at registration time, so path resolution always terminates.
type MigrationRegistry struct {
	// edges[schemaID][from] lists the outgoing migrations.
	edges  map[string]map[string][]*Migration
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewMigrationRegistry creates an empty migration registry.
func NewMigrationRegistry(logger *zap.Logger) *MigrationRegistry {
	return &MigrationRegistry{
		edges:  make(map[string]map[string][]*Migration),
		logger: logger,
	}
}

// Register adds one migration edge. Self-loops and edges that would make
// the version graph cyclic are rejected.
func (r *MigrationRegistry) Register(m *Migration) error {
	if m.SchemaID == "" || m.FromVersion == "" || m.ToVersion == "" {
		return errors.New(errors.ErrorTypeMigration, "migration schema id and versions must not be empty")
	}
	if m.Apply == nil {
		return errors.Newf(errors.ErrorTypeMigration, "migration %s %s->%s has no apply function", m.SchemaID, m.FromVersion, m.ToVersion)
	}
	if m.FromVersion == m.ToVersion {
		return errors.Newf(errors.ErrorTypeMigration, "migration %s: self-loop on version %s", m.SchemaID, m.FromVersion)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.reachable(m.SchemaID, m.ToVersion, m.FromVersion) {
		return errors.Newf(errors.ErrorTypeMigration,
			"migration %s %s->%s would create a cycle", m.SchemaID, m.FromVersion, m.ToVersion)
	}

	if r.edges[m.SchemaID] == nil {
		r.edges[m.SchemaID] = make(map[string][]*Migration)
	}
	r.edges[m.SchemaID][m.FromVersion] = append(r.edges[m.SchemaID][m.FromVersion], m)

	r.logger.Info("registered migration",
		zap.String("schema", m.SchemaID),
		zap.String("from", m.FromVersion),
		zap.String("to", m.ToVersion))
	return nil
}

// reachable reports whether target can be reached from start along
// registered edges. Callers must hold r.mu.
func (r *MigrationRegistry) reachable(schemaID, start, target string) bool {
	if start == target {
		return true
	}
	visited := map[string]struct{}{start: {}}
	stack := []string{start}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, edge := range r.edges[schemaID][node] {
			if edge.ToVersion == target {
				return true
			}
			if _, seen := visited[edge.ToVersion]; !seen {
				visited[edge.ToVersion] = struct{}{}
				stack = append(stack, edge.ToVersion)
			}
		}
	}
	return false
}

// HasMigrationsFrom reports whether any migration is registered out of the
// given version. Callers use it to distinguish data at an unknown version
// from data whose version graph merely misses the target.
func (r *MigrationRegistry) HasMigrationsFrom(schemaID, from string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.edges[schemaID][from]) > 0
}

// ResolvePath finds the shortest migration chain from one version to
// another by breadth-first search. Identical versions resolve to an empty
// chain; an unreachable target or a chain longer than maxHops (when
// positive) yields a MigrationPathError.
func (r *MigrationRegistry) ResolvePath(schemaID, from, to string, maxHops int) ([]*Migration, error) {
	if from == to {
		return []*Migration{}, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	type node struct {
		version string
		path    []*Migration
	}

	visited := map[string]struct{}{from: {}}
	queue := []node{{version: from}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if maxHops > 0 && len(current.path) >= maxHops {
			continue
		}

		for _, edge := range r.edges[schemaID][current.version] {
			if _, seen := visited[edge.ToVersion]; seen {
				continue
			}
			path := append(append([]*Migration{}, current.path...), edge)
			if edge.ToVersion == to {
				return path, nil
			}
			visited[edge.ToVersion] = struct{}{}
			queue = append(queue, node{version: edge.ToVersion, path: path})
		}
	}

	return nil, &MigrationPathError{SchemaID: schemaID, From: from, To: to, MaxHops: maxHops}
}

// ApplyMigrations runs a resolved chain over a record batch. Every step
// works on a fresh copy, so the input batch is never mutated and a failed
// chain leaves no partially migrated records behind.
func ApplyMigrations(records []models.Record, path []*Migration) ([]models.Record, error) {
	out := models.CloneAll(records)
	for i, migrated := range out {
		for _, step := range path {
			next, err := step.Apply(migrated)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeMigration,
					fmt.Sprintf("record %d: migration %s->%s failed", i, step.FromVersion, step.ToVersion))
			}
			migrated = next
		}
		out[i] = migrated
	}
	return out, nil
}
