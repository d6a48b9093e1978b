package scope

import (
	"fmt"
	"sort"
	"sync"
)

type node struct {
	info    Info
	parents []Ref
	// resource only
	resource *ResourceInfo
	service  string
}

// MemoryGraph is an in-process Graph. It is safe for concurrent use.
type MemoryGraph struct {
	mu       sync.RWMutex
	nodes    map[Ref]*node
	children map[Ref]map[Ref]struct{}
}

// NewMemoryGraph returns an empty graph.
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		nodes:    make(map[Ref]*node),
		children: make(map[Ref]map[Ref]struct{}),
	}
}

// AddCustomer registers a customer.
func (g *MemoryGraph) AddCustomer(id, name string) error {
	return g.add(Customer(id), name, "", nil)
}

// AddProject registers a project of customer.
func (g *MemoryGraph) AddProject(id, name, customer string) error {
	return g.add(Project(id), name, "", []Ref{Customer(customer)})
}

// AddServiceSettings registers a service settings record. The customer is
// descriptive only; settings are a terminal scope.
func (g *MemoryGraph) AddServiceSettings(id, name string) error {
	return g.add(Settings(id), name, "", nil)
}

// AddService registers a service of customer running on settings.
func (g *MemoryGraph) AddService(id, name, customer, settings string) error {
	return g.add(Service(id), name, "", []Ref{Customer(customer), Settings(settings)})
}

// AddSPL registers the link between service and project.
func (g *MemoryGraph) AddSPL(id, service, project string) error {
	g.mu.RLock()
	svc, sok := g.nodes[Service(service)]
	prj, pok := g.nodes[Project(project)]
	g.mu.RUnlock()
	name := id
	if sok && pok {
		name = svc.info.Name + " | " + prj.info.Name
	}
	return g.add(SPL(id), name, "", []Ref{Service(service), Project(project)})
}

// AddResource registers a resource under its SPL.
func (g *MemoryGraph) AddResource(r ResourceInfo) error {
	if r.ID == "" || r.SPL == "" {
		return fmt.Errorf("resource requires id and spl")
	}
	ref := Resource(r.ID)

	g.mu.Lock()
	defer g.mu.Unlock()

	spl, ok := g.nodes[SPL(r.SPL)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, SPL(r.SPL))
	}
	n := &node{
		info:     Info{Ref: ref, Name: r.Name, Description: r.Description, BackendID: r.BackendID},
		parents:  []Ref{SPL(r.SPL)},
		resource: &r,
	}
	for _, p := range spl.parents {
		if p.Kind == KindService {
			n.service = p.ID
		}
	}
	g.insertLocked(ref, n)
	return nil
}

func (g *MemoryGraph) add(ref Ref, name, description string, parents []Ref) error {
	if ref.ID == "" {
		return fmt.Errorf("%s requires an id", ref.Kind)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, p := range parents {
		if _, ok := g.nodes[p]; !ok {
			return fmt.Errorf("%w: parent %s of %s", ErrNotFound, p, ref)
		}
	}
	g.insertLocked(ref, &node{
		info:    Info{Ref: ref, Name: name, Description: description},
		parents: parents,
	})
	return nil
}

func (g *MemoryGraph) insertLocked(ref Ref, n *node) {
	if old, ok := g.nodes[ref]; ok {
		for _, p := range old.parents {
			delete(g.children[p], ref)
		}
	}
	g.nodes[ref] = n
	for _, p := range n.parents {
		if g.children[p] == nil {
			g.children[p] = make(map[Ref]struct{})
		}
		g.children[p][ref] = struct{}{}
	}
}

// Parents implements Graph.
func (g *MemoryGraph) Parents(ref Ref) ([]Ref, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	out := make([]Ref, 0, len(n.parents))
	for _, p := range n.parents {
		if _, live := g.nodes[p]; live {
			out = append(out, p)
		}
	}
	return out, nil
}

// Ancestors implements Graph. The result is ordered breadth first.
func (g *MemoryGraph) Ancestors(ref Ref) ([]Ref, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	start, ok := g.nodes[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	seen := map[Ref]bool{ref: true}
	var out []Ref
	queue := append([]Ref(nil), start.parents...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		n, live := g.nodes[cur]
		if !live {
			continue
		}
		out = append(out, cur)
		queue = append(queue, n.parents...)
	}
	return out, nil
}

// Descendants implements Graph.
func (g *MemoryGraph) Descendants(ref Ref) ([]Ref, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[ref]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	seen := map[Ref]bool{ref: true}
	var out []Ref
	queue := []Ref{ref}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for c := range g.children[cur] {
			if seen[c] {
				continue
			}
			seen[c] = true
			if _, live := g.nodes[c]; live {
				out = append(out, c)
				queue = append(queue, c)
			}
		}
	}
	sortRefs(out)
	return out, nil
}

// Resource implements Graph.
func (g *MemoryGraph) Resource(id string) (ResourceInfo, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[Resource(id)]
	if !ok {
		return ResourceInfo{}, fmt.Errorf("%w: %s", ErrNotFound, Resource(id))
	}
	return *n.resource, nil
}

// ServiceOf implements Graph.
func (g *MemoryGraph) ServiceOf(resourceID string) (string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[Resource(resourceID)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, Resource(resourceID))
	}
	return n.service, nil
}

// Describe implements Graph.
func (g *MemoryGraph) Describe(ref Ref) (Info, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[ref]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return n.info, nil
}

// Resources implements Graph. Results are sorted by id.
func (g *MemoryGraph) Resources() []ResourceInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []ResourceInfo
	for ref, n := range g.nodes {
		if ref.Kind == KindResource {
			out = append(out, *n.resource)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Exists implements Graph.
func (g *MemoryGraph) Exists(ref Ref) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[ref]
	return ok
}

// Remove implements Graph.
func (g *MemoryGraph) Remove(ref Ref) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[ref]
	if !ok {
		return
	}
	for _, p := range n.parents {
		delete(g.children[p], ref)
	}
	delete(g.nodes, ref)
}

// Len returns the number of live scopes.
func (g *MemoryGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

func sortRefs(refs []Ref) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Kind != refs[j].Kind {
			return refs[i].Kind < refs[j].Kind
		}
		return refs[i].ID < refs[j].ID
	})
}
