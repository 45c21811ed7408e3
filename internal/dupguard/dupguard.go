// Package dupguard rejects work names that already exist before a submission
// reaches the network.
//
// The guard is advisory. It checks against a locally held catalog of names
// which can be stale; the store's unique name key stays authoritative.
package dupguard

import (
	"context"
	"fmt"
	"strings"
	"sync"

	apperrors "github.com/matthewbaird/canalworks/internal/errors"
)

// Normalize is the comparison key for work names: trimmed and lower-cased.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NameSource lists the names of existing work packages.
type NameSource interface {
	WorkNames(ctx context.Context) ([]string, error)
}

// Guard holds the known names.
type Guard struct {
	mu    sync.RWMutex
	names map[string]string // normalized -> name as stored
}

// New creates a Guard seeded with names.
func New(names ...string) *Guard {
	g := &Guard{}
	g.Replace(names)
	return g
}

// Replace swaps the catalog for names.
func (g *Guard) Replace(names []string) {
	m := make(map[string]string, len(names))
	for _, n := range names {
		m[Normalize(n)] = n
	}
	g.mu.Lock()
	g.names = m
	g.mu.Unlock()
}

// Refresh reloads the catalog from src.
func (g *Guard) Refresh(ctx context.Context, src NameSource) error {
	names, err := src.WorkNames(ctx)
	if err != nil {
		return fmt.Errorf("loading work names: %w", err)
	}
	g.Replace(names)
	return nil
}

// Add records a name that was just created.
func (g *Guard) Add(name string) {
	g.mu.Lock()
	if g.names == nil {
		g.names = map[string]string{}
	}
	g.names[Normalize(name)] = name
	g.mu.Unlock()
}

// Remove forgets a name whose work was deleted.
func (g *Guard) Remove(name string) {
	g.mu.Lock()
	delete(g.names, Normalize(name))
	g.mu.Unlock()
}

// Len returns the number of known names.
func (g *Guard) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.names)
}

// Check returns a DUPLICATE_NAME error when name matches a known name.
func (g *Guard) Check(name string) error {
	key := Normalize(name)
	if key == "" {
		return nil
	}
	g.mu.RLock()
	existing, ok := g.names[key]
	g.mu.RUnlock()
	if !ok {
		return nil
	}
	return apperrors.WithMetadata(apperrors.CodeDuplicateName,
		fmt.Sprintf("A work named %q already exists", existing),
		map[string]string{"name": strings.TrimSpace(name), "existing": existing})
}
