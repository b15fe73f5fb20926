package main

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/agentswarm/swarm/registry"
)

// agentSeed is one entry of the --agents file.
type agentSeed struct {
	ID             string            `yaml:"id"`
	Address        string            `yaml:"address"`
	Capabilities   []string          `yaml:"capabilities"`
	MaxConcurrency int               `yaml:"max_concurrency"`
	Metadata       map[string]string `yaml:"metadata"`
}

type agentsFile struct {
	Agents []agentSeed `yaml:"agents"`
}

// loadAgentSeeds parses a YAML file of the form
//
//	agents:
//	  - id: parser-1
//	    address: 10.0.0.5:7000
//	    capabilities: [parse]
func loadAgentSeeds(path string) ([]registry.Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file agentsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	agents := make([]registry.Agent, 0, len(file.Agents))
	for _, s := range file.Agents {
		agents = append(agents, registry.Agent{
			ID:             s.ID,
			Address:        s.Address,
			Capabilities:   s.Capabilities,
			MaxConcurrency: s.MaxConcurrency,
			Metadata:       s.Metadata,
		})
	}
	return agents, nil
}

// seedAgents registers the agents listed in path. Agents already restored
// from a snapshot are left alone.
func seedAgents(ctx context.Context, reg *registry.Registry, path string) (int, error) {
	agents, err := loadAgentSeeds(path)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range agents {
		if a.ID != "" && reg.Has(a.ID) {
			continue
		}
		if _, err := reg.Register(ctx, a); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
