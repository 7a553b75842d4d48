package etl

import (
	"sync"

	"github.com/BartekS5/bulkmigrate/pkg/models"
)

// TypeRegistry records the first kind observed for each property key.
// It is shared by every transformer goroutine writing to one index.
type TypeRegistry struct {
	types sync.Map // string -> models.PropertyKind
}

func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{}
}

// Resolve registers kind for key if the key is new and returns the kind the
// key is registered under, and whether a value of kind may be stored. The
// insert is atomic: concurrent first observations agree on a single winner.
// Kinds must match exactly; integers and fractional numbers are distinct.
func (r *TypeRegistry) Resolve(key string, kind models.PropertyKind) (models.PropertyKind, bool) {
	actual, _ := r.types.LoadOrStore(key, kind)
	registered := actual.(models.PropertyKind)
	return registered, registered == kind
}

// Lookup returns the registered kind for key.
func (r *TypeRegistry) Lookup(key string) (models.PropertyKind, bool) {
	v, ok := r.types.Load(key)
	if !ok {
		return 0, false
	}
	return v.(models.PropertyKind), true
}

// Seed pre-registers kinds persisted by an earlier run. Unknown kind names
// are ignored. It returns the number of keys registered.
func (r *TypeRegistry) Seed(types map[string]string) int {
	n := 0
	for key, name := range types {
		kind, ok := models.ParsePropertyKind(name)
		if !ok {
			continue
		}
		if _, loaded := r.types.LoadOrStore(key, kind); !loaded {
			n++
		}
	}
	return n
}

// Snapshot returns the registry as kind names keyed by property.
func (r *TypeRegistry) Snapshot() map[string]string {
	out := make(map[string]string)
	r.types.Range(func(k, v any) bool {
		out[k.(string)] = v.(models.PropertyKind).String()
		return true
	})
	return out
}
