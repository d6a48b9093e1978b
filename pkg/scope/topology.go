package scope

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Topology is the on-disk description of the scope hierarchy.
//
//	customers:
//	  - id: c1
//	    name: Acme
//	service_settings:
//	  - id: ss1
//	    name: OpenStack region 1
//	services:
//	  - id: s1
//	    name: OpenStack
//	    customer: c1
//	    settings: ss1
//	projects:
//	  - id: p1
//	    name: Web
//	    customer: c1
//	service_project_links:
//	  - id: spl1
//	    service: s1
//	    project: p1
//	resources:
//	  - id: vm1
//	    name: web-01
//	    type: openstack.instance
//	    spl: spl1
type Topology struct {
	Customers           []TopologyCustomer `yaml:"customers"`
	ServiceSettings     []TopologySettings `yaml:"service_settings"`
	Services            []TopologyService  `yaml:"services"`
	Projects            []TopologyProject  `yaml:"projects"`
	ServiceProjectLinks []TopologySPL      `yaml:"service_project_links"`
	Resources           []ResourceInfo     `yaml:"resources"`
}

type TopologyCustomer struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type TopologySettings struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type TopologyService struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Customer string `yaml:"customer"`
	Settings string `yaml:"settings"`
}

type TopologyProject struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Customer string `yaml:"customer"`
}

type TopologySPL struct {
	ID      string `yaml:"id"`
	Service string `yaml:"service"`
	Project string `yaml:"project"`
}

// LoadTopology reads a YAML topology file into a new MemoryGraph.
func LoadTopology(path string) (*MemoryGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology file: %w", err)
	}

	var topo Topology
	if err := yaml.Unmarshal(data, &topo); err != nil {
		return nil, fmt.Errorf("failed to parse topology YAML: %w", err)
	}

	g := NewMemoryGraph()
	if err := topo.Apply(g); err != nil {
		return nil, fmt.Errorf("invalid topology %s: %w", path, err)
	}
	return g, nil
}

// Apply adds every scope of t to g, parents first.
func (t *Topology) Apply(g *MemoryGraph) error {
	for _, c := range t.Customers {
		if err := g.AddCustomer(c.ID, c.Name); err != nil {
			return err
		}
	}
	for _, s := range t.ServiceSettings {
		if err := g.AddServiceSettings(s.ID, s.Name); err != nil {
			return err
		}
	}
	for _, s := range t.Services {
		if err := g.AddService(s.ID, s.Name, s.Customer, s.Settings); err != nil {
			return err
		}
	}
	for _, p := range t.Projects {
		if err := g.AddProject(p.ID, p.Name, p.Customer); err != nil {
			return err
		}
	}
	for _, l := range t.ServiceProjectLinks {
		if err := g.AddSPL(l.ID, l.Service, l.Project); err != nil {
			return err
		}
	}
	for _, r := range t.Resources {
		if err := g.AddResource(r); err != nil {
			return err
		}
	}
	return nil
}
