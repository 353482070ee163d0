package pipelines

import (
	"sort"
	"sync"
)

// Role names of the built-in pipelines.
const (
	RoleCopyFile    = "copy-file"
	RoleCopyDir     = "copy-dir"
	RoleCSS         = "css"
	RoleSass        = "sass"
	RoleScss        = "scss"
	RoleTailwindCSS = "tailwind-css"
	RoleJS          = "js"
	RoleIcon        = "icon"
	RoleInline      = "inline"
	RoleRust        = "rust"
)

// Registry maps a role to the ordered chain of constructors that may claim
// declarations of that role.
type Registry struct {
	mu     sync.RWMutex
	chains map[string][]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{chains: make(map[string][]Constructor)}
}

// DefaultRegistry returns a registry with every built-in pipeline.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(RoleCopyFile, NewCopyFile)
	r.Register(RoleCopyDir, NewCopyDir)
	r.Register(RoleCSS, NewCSS)
	r.Register(RoleSass, NewSass)
	r.Register(RoleScss, NewSass)
	r.Register(RoleTailwindCSS, NewTailwindCSS)
	r.Register(RoleJS, NewJS)
	r.Register(RoleIcon, NewIcon)
	r.Register(RoleInline, NewInline)
	r.Register(RoleRust, NewRust)

	return r
}

// Register appends c to the chain for role. Constructors are tried in
// registration order.
func (r *Registry) Register(role string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[role] = append(r.chains[role], c)
}

// Lookup returns the constructor chain for role.
func (r *Registry) Lookup(role string) []Constructor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain := r.chains[role]

	return append([]Constructor(nil), chain...)
}

// Has reports whether any constructor is registered for role.
func (r *Registry) Has(role string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.chains[role]) > 0
}

// Roles returns the registered roles, sorted.
func (r *Registry) Roles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roles := make([]string, 0, len(r.chains))
	for role := range r.chains {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	return roles
}
