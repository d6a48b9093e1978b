// Package scope describes the billing hierarchy of the broker: customers,
// projects, services, service settings, service-project links and resources.
//
// Cost flows upward from resources. A resource belongs to exactly one
// service-project link (SPL); an SPL joins one service to one project; a
// service belongs to a customer and runs on one service settings record;
// a project belongs to a customer.
//
// Every ancestor kind except the resource's direct SPL can be reached along
// two paths (the customer through both project and service, for example).
// Each ancestor is counted once; see SummedChild for which children an
// ancestor's total is the sum of.
package scope

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the type of a scope.
type Kind string

const (
	KindResource        Kind = "resource"
	KindSPL             Kind = "service_project_link"
	KindService         Kind = "service"
	KindServiceSettings Kind = "service_settings"
	KindProject         Kind = "project"
	KindCustomer        Kind = "customer"
)

var (
	// ErrNotFound is returned for scopes unknown to the graph.
	ErrNotFound = errors.New("scope not found")

	// ErrInvalidRef is returned by ParseRef.
	ErrInvalidRef = errors.New("invalid scope reference")
)

// Kinds lists all scope kinds, leaf first.
var Kinds = []Kind{KindResource, KindSPL, KindService, KindServiceSettings, KindProject, KindCustomer}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// SummedChild returns the child kind whose estimates sum to an estimate of
// kind k. Resources have none.
func (k Kind) SummedChild() (Kind, bool) {
	switch k {
	case KindSPL:
		return KindResource, true
	case KindService, KindProject:
		return KindSPL, true
	case KindServiceSettings:
		return KindService, true
	case KindCustomer:
		return KindProject, true
	}
	return "", false
}

// Sums reports whether a parent of kind k aggregates children of kind child.
func (k Kind) Sums(child Kind) bool {
	c, ok := k.SummedChild()
	return ok && c == child
}

// Ref names a single scope.
type Ref struct {
	Kind Kind   `json:"kind" yaml:"kind"`
	ID   string `json:"id" yaml:"id"`
}

// Resource returns a resource reference.
func Resource(id string) Ref { return Ref{Kind: KindResource, ID: id} }

// SPL returns a service-project link reference.
func SPL(id string) Ref { return Ref{Kind: KindSPL, ID: id} }

// Service returns a service reference.
func Service(id string) Ref { return Ref{Kind: KindService, ID: id} }

// Settings returns a service settings reference.
func Settings(id string) Ref { return Ref{Kind: KindServiceSettings, ID: id} }

// Project returns a project reference.
func Project(id string) Ref { return Ref{Kind: KindProject, ID: id} }

// Customer returns a customer reference.
func Customer(id string) Ref { return Ref{Kind: KindCustomer, ID: id} }

// IsZero reports whether r is unset.
func (r Ref) IsZero() bool { return r.Kind == "" && r.ID == "" }

// String renders r as "kind:id".
func (r Ref) String() string { return string(r.Kind) + ":" + r.ID }

// ParseRef parses "kind:id".
func ParseRef(s string) (Ref, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, s)
	}
	r := Ref{Kind: Kind(kind), ID: id}
	if !r.Kind.Valid() {
		return Ref{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidRef, kind)
	}
	return r, nil
}

// ResourceInfo holds the resource attributes needed for pricing and
// adapter lookups.
type ResourceInfo struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	SPL         string `yaml:"spl"`
	BackendID   string `yaml:"backend_id"`
	Description string `yaml:"description"`
}

// Info is the descriptive snapshot kept on estimates of deleted scopes.
type Info struct {
	Ref         Ref
	Name        string
	Description string
	BackendID   string
}

// Details renders the snapshot stored on a frozen estimate.
func (i Info) Details() map[string]string {
	d := map[string]string{
		"scope_type": string(i.Ref.Kind),
		"scope_id":   i.Ref.ID,
		"name":       i.Name,
	}
	if i.Description != "" {
		d["description"] = i.Description
	}
	if i.BackendID != "" {
		d["backend_id"] = i.BackendID
	}
	return d
}

// Graph is the read view of the scope hierarchy used by the tracker.
type Graph interface {
	// Parents returns the direct parents of ref. Service settings and
	// customers have none.
	Parents(ref Ref) ([]Ref, error)

	// Ancestors returns every transitive ancestor of ref, each once.
	Ancestors(ref Ref) ([]Ref, error)

	// Descendants returns every transitive descendant of ref, each once.
	Descendants(ref Ref) ([]Ref, error)

	// Resource returns resource attributes.
	Resource(id string) (ResourceInfo, error)

	// ServiceOf returns the service a resource is priced under.
	ServiceOf(resourceID string) (string, error)

	// Describe returns the snapshot for ref.
	Describe(ref Ref) (Info, error)

	// Resources lists every live resource.
	Resources() []ResourceInfo

	// Exists reports whether ref is a live scope.
	Exists(ref Ref) bool

	// Remove forgets ref. Unknown refs are ignored.
	Remove(ref Ref)
}
