// Package catalog holds the addons offered for the current product and
// their per-session selection status.
package catalog

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/eliteGoblin/focusd/regsync/internal/domain"
	"github.com/eliteGoblin/focusd/regsync/internal/graph"
)

// Catalog is the set of addons known for the current product, in the
// display order the server delivered them.
type Catalog struct {
	addons []domain.Addon
	index  map[string]int
	status map[string]domain.AddonStatus
	deps   *graph.Graph
}

// New builds a catalog and resolves every dependency reference.
// A duplicate addon or a reference matching nothing fails the whole
// catalog; nothing is partially built.
func New(addons []domain.Addon) (*Catalog, error) {
	c := &Catalog{
		addons: make([]domain.Addon, 0, len(addons)),
		index:  make(map[string]int, len(addons)),
		status: make(map[string]domain.AddonStatus, len(addons)),
		deps:   graph.New(),
	}

	for _, a := range addons {
		key := a.Key()
		if _, dup := c.index[key]; dup {
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateAddon, key)
		}
		pos := len(c.addons)
		c.index[key] = pos
		c.addons = append(c.addons, a)
		if err := c.deps.AddNode(key, pos); err != nil {
			return nil, err
		}
		if a.Registered {
			c.status[key] = domain.StatusRegistered
		} else {
			c.status[key] = domain.StatusAvailable
		}
	}

	for _, a := range c.addons {
		for _, ref := range a.Depends {
			target, err := c.resolve(ref, a.Arch)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", a.Key(), err)
			}
			if target == a.Key() {
				continue
			}
			if err := c.deps.AddEdge(a.Key(), target); err != nil {
				return nil, err
			}
		}
	}

	// Dependencies of registered addons are pinned from the start.
	for _, a := range c.addons {
		if !a.Registered {
			continue
		}
		for _, dep := range c.deps.Dependencies(a.Key()) {
			if !c.status[dep].AtLeastAutoSelected() {
				c.status[dep] = domain.StatusAutoSelected
			}
		}
	}
	return c, nil
}

// resolve finds the addon a reference points at. Candidates must share
// the identifier; the architecture defaults to the dependent's own and
// falls back to any. The highest matching version wins, display order
// breaks ties.
func (c *Catalog) resolve(ref domain.AddonRef, fromArch string) (string, error) {
	var constraint *semver.Constraints
	if ref.Version != "" {
		if cs, err := semver.NewConstraint(ref.Version); err == nil {
			constraint = cs
		}
	}

	archs := []string{ref.Arch}
	if ref.Arch == "" {
		archs = []string{fromArch, ""}
	}

	for _, arch := range archs {
		best := -1
		var bestVer *semver.Version
		for i, a := range c.addons {
			if a.Identifier != ref.Identifier {
				continue
			}
			if arch != "" && a.Arch != arch {
				continue
			}
			ver, _ := semver.NewVersion(a.Version)
			if ref.Version != "" && a.Version != ref.Version {
				if constraint == nil || ver == nil || !constraint.Check(ver) {
					continue
				}
			}
			if best == -1 || newer(ver, bestVer) {
				best = i
				bestVer = ver
			}
		}
		if best >= 0 {
			return c.addons[best].Key(), nil
		}
	}
	return "", fmt.Errorf("%w: %s", domain.ErrUnresolvedDependency, ref)
}

// newer reports whether v should replace the current best candidate.
// Parsable versions beat unparsable ones.
func newer(v, best *semver.Version) bool {
	switch {
	case v == nil:
		return false
	case best == nil:
		return true
	default:
		return v.GreaterThan(best)
	}
}

// Len returns the number of addons.
func (c *Catalog) Len() int {
	return len(c.addons)
}

// Addons returns all addons in display order.
func (c *Catalog) Addons() []domain.Addon {
	out := make([]domain.Addon, len(c.addons))
	copy(out, c.addons)
	return out
}

// Get returns the addon with the given key.
func (c *Catalog) Get(key string) (domain.Addon, bool) {
	pos, ok := c.index[key]
	if !ok {
		return domain.Addon{}, false
	}
	return c.addons[pos], true
}

// Position returns the display position of key, or -1.
func (c *Catalog) Position(key string) int {
	pos, ok := c.index[key]
	if !ok {
		return -1
	}
	return pos
}

// Status returns the selection status of key.
func (c *Catalog) Status(key string) (domain.AddonStatus, error) {
	st, ok := c.status[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrUnknownAddon, key)
	}
	return st, nil
}

// SetStatus changes the selection status of key.
func (c *Catalog) SetStatus(key string, st domain.AddonStatus) error {
	if _, ok := c.status[key]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownAddon, key)
	}
	c.status[key] = st
	return nil
}

// MarkRegistered moves the given addons to registered.
func (c *Catalog) MarkRegistered(keys ...string) error {
	for _, key := range keys {
		if err := c.SetStatus(key, domain.StatusRegistered); err != nil {
			return err
		}
	}
	return nil
}

// WithStatus returns the addons in any of the given states, in display order.
func (c *Catalog) WithStatus(states ...domain.AddonStatus) []domain.Addon {
	var out []domain.Addon
	for _, a := range c.addons {
		st := c.status[a.Key()]
		for _, want := range states {
			if st == want {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

// Dependencies returns the keys key transitively depends on.
func (c *Catalog) Dependencies(key string) []string {
	return c.deps.Dependencies(key)
}

// Dependents returns the keys that transitively depend on key.
func (c *Catalog) Dependents(key string) []string {
	return c.deps.Dependents(key)
}

// Order returns keys plus their dependencies, dependencies first.
func (c *Catalog) Order(keys []string) ([]string, error) {
	return c.deps.TopologicalSort(keys)
}
