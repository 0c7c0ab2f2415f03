package monitor

import (
	"strings"

	"github.com/MarcoPoloResearchLab/waypoint/internal/proximity"
)

// Registry holds the watch targets of the current monitoring session, keyed by target id.
// It is owned by the monitor loop and is not safe for concurrent use.
type Registry struct {
	targets map[string]*proximity.Target
}

func NewRegistry() *Registry {
	return &Registry{targets: make(map[string]*proximity.Target)}
}

// Register inserts or replaces target. It is a no-op returning false when the target does not
// belong to currentOwner. A replacement with the same center and radius keeps the triggered flag.
func (r *Registry) Register(target proximity.Target, currentOwner string) bool {
	owner := strings.TrimSpace(currentOwner)
	if owner == "" || target.Owner != owner || strings.TrimSpace(target.ID) == "" {
		return false
	}
	stored := target
	stored.Triggered = false
	if existing, ok := r.targets[target.ID]; ok && sameGeometry(existing, &stored) {
		stored.Triggered = existing.Triggered
	}
	r.targets[target.ID] = &stored
	return true
}

// Unregister removes id and reports whether it was present. Removing an absent id is fine.
func (r *Registry) Unregister(id string) bool {
	if _, ok := r.targets[id]; !ok {
		return false
	}
	delete(r.targets, id)
	return true
}

// UnregisterAll clears every target.
func (r *Registry) UnregisterAll() {
	clear(r.targets)
}

func (r *Registry) IsEmpty() bool {
	return len(r.targets) == 0
}

func (r *Registry) Len() int {
	return len(r.targets)
}

// Get returns a copy of the target stored under id.
func (r *Registry) Get(id string) (proximity.Target, bool) {
	target, ok := r.targets[id]
	if !ok {
		return proximity.Target{}, false
	}
	return *target, true
}

// ForEach visits every target; fn may mutate the target's triggered flag.
func (r *Registry) ForEach(fn func(id string, target *proximity.Target)) {
	for id, target := range r.targets {
		fn(id, target)
	}
}

// RetainOwner drops targets that do not belong to owner and returns how many were removed.
func (r *Registry) RetainOwner(owner string) int {
	removed := 0
	for id, target := range r.targets {
		if target.Owner != owner {
			delete(r.targets, id)
			removed++
		}
	}
	return removed
}

func sameGeometry(a, b *proximity.Target) bool {
	return a.Latitude == b.Latitude && a.Longitude == b.Longitude && a.RadiusMeters == b.RadiusMeters
}
