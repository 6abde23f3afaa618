// Package config loads the static replica membership table.
//
// The teacher took its topology from CLI flags (--id, --host, --port,
// --peers); this port generalizes that to a YAML file so a membership
// change doesn't require re-typing a peer list on every command line,
// while keeping a baked-in 3-entry default matching spec.md §6.3 for the
// zero-config case.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Replica binds one ring member's identity to its network location.
type Replica struct {
	ID         int    `yaml:"id"`
	Host       string `yaml:"host"`
	ClientPort int    `yaml:"client_port"`
}

// PeerPort is always ClientPort+1000 per spec.md §3 — derived, not configured.
func (r Replica) PeerPort() int { return r.ClientPort + 1000 }

func (r Replica) ClientAddr() string { return fmt.Sprintf("%s:%d", r.Host, r.ClientPort) }
func (r Replica) PeerAddr() string   { return fmt.Sprintf("%s:%d", r.Host, r.PeerPort()) }

// Membership is the full static ring topology.
type Membership struct {
	Replicas []Replica `yaml:"replicas"`
}

// Default is the built-in 3-entry table from spec.md §6.3.
func Default() Membership {
	return Membership{
		Replicas: []Replica{
			{ID: 1, Host: "localhost", ClientPort: 9091},
			{ID: 2, Host: "localhost", ClientPort: 9092},
			{ID: 3, Host: "localhost", ClientPort: 9093},
		},
	}
}

// Load reads a YAML membership file. An empty path returns Default().
func Load(path string) (Membership, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Membership{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var m Membership
	if err := yaml.Unmarshal(b, &m); err != nil {
		return Membership{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if len(m.Replicas) == 0 {
		return Membership{}, fmt.Errorf("config %s: no replicas defined", path)
	}
	return m, nil
}

// Lookup returns the replica entry with the given id.
func (m Membership) Lookup(id int) (Replica, bool) {
	for _, r := range m.Replicas {
		if r.ID == id {
			return r, true
		}
	}
	return Replica{}, false
}

// Peers returns every replica except id.
func (m Membership) Peers(id int) []Replica {
	out := make([]Replica, 0, len(m.Replicas)-1)
	for _, r := range m.Replicas {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}

// MaxID returns the highest replica id in the table.
func (m Membership) MaxID() int {
	max := 0
	for _, r := range m.Replicas {
		if r.ID > max {
			max = r.ID
		}
	}
	return max
}
