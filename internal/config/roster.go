package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RosterEntry is one bootstrap handler.
type RosterEntry struct {
	ID         int64  `yaml:"id"`
	Name       string `yaml:"name"`
	SuperAdmin bool   `yaml:"super_admin"`
}

type rosterFile struct {
	Handlers []RosterEntry `yaml:"handlers"`
}

// SeedEntries merges SUPPORT_IDS, SUPER_ADMIN_IDS and the optional YAML
// roster file. Later sources win for names; the super-admin flag is sticky.
func (r RosterConfig) SeedEntries() ([]RosterEntry, error) {
	byID := map[int64]*RosterEntry{}
	var order []int64
	put := func(e RosterEntry) {
		if existing, ok := byID[e.ID]; ok {
			if e.Name != "" {
				existing.Name = e.Name
			}
			existing.SuperAdmin = existing.SuperAdmin || e.SuperAdmin
			return
		}
		entry := e
		byID[e.ID] = &entry
		order = append(order, e.ID)
	}

	for _, id := range r.SupportIDs {
		put(RosterEntry{ID: id})
	}
	for _, id := range r.SuperAdminIDs {
		put(RosterEntry{ID: id, SuperAdmin: true})
	}
	if r.SeedFile != "" {
		content, err := os.ReadFile(r.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("read roster file: %w", err)
		}
		var file rosterFile
		if err := yaml.Unmarshal(content, &file); err != nil {
			return nil, fmt.Errorf("parse roster file: %w", err)
		}
		for _, e := range file.Handlers {
			if e.ID == 0 {
				return nil, fmt.Errorf("roster file: handler without id")
			}
			put(e)
		}
	}

	entries := make([]RosterEntry, 0, len(order))
	for _, id := range order {
		entries = append(entries, *byID[id])
	}
	return entries, nil
}
