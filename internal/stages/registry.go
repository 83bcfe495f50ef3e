// Package stages implements the pipeline's stage contracts (spec §4.7):
// preprocess, wakeup, the activity selector, vision, tool scheduling,
// agent dispatch, summarize, autotools, and cleanup, plus the outer
// orchestrator that wires them into the graph shape from spec §4.6.
package stages

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AgentMetadata describes one entry in the static agent registry the
// activity selector chooses from (spec §4.7 "activity selector"), grounded
// on original_source/meep/src/graphs/_agents.py's AgentMetadata/AGENTS.
type AgentMetadata struct {
	Name               string   `yaml:"name"`
	RoutingDescription string   `yaml:"routing_description"`
	MemoryDescription  string   `yaml:"memory_description"`
	Prompt             string   `yaml:"prompt,omitempty"`
	Tools              []string `yaml:"tools,omitempty"`
	Includable         bool     `yaml:"includable"`
	// ImageGeneration requests provider image output for this agent's turn
	// (llm.WithImagePrompt) instead of plain text.
	ImageGeneration bool `yaml:"image_generation,omitempty"`
}

// Waiting is the activity value meaning "the agent should not respond".
const Waiting = "waiting"

// DefaultAgent is the conversational fallback agent, required to be
// present in any loaded registry.
const DefaultAgent = "conversing"

// AgentRegistry maps an agent name to its metadata.
type AgentRegistry map[string]AgentMetadata

type agentsFile struct {
	Agents []AgentMetadata `yaml:"agents"`
}

// LoadAgents reads the static agent registry from a YAML file, the way the
// teacher's webapp loads other static declarative config from yaml.v3
// (spec_full §9: the activity selector's agent registry is data, not code).
func LoadAgents(path string) (AgentRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("stages: read agents file %s: %w", path, err)
	}
	var f agentsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("stages: parse agents file %s: %w", path, err)
	}
	reg := make(AgentRegistry, len(f.Agents))
	for _, a := range f.Agents {
		reg[a.Name] = a
	}
	if _, ok := reg[DefaultAgent]; !ok {
		return nil, fmt.Errorf("stages: default agent %q not present in %s", DefaultAgent, path)
	}
	return reg, nil
}

// DefaultAgents returns the built-in fallback registry used when no YAML
// file is configured, mirroring the original's AGENTS dict shape
// (conversing/debug/generate_image) with generic tool names.
func DefaultAgents() AgentRegistry {
	return AgentRegistry{
		"conversing": {
			Name:               "conversing",
			RoutingDescription: "Talks normally with the user.",
			MemoryDescription:  "Default agent.",
			Includable:         false,
		},
		"debug": {
			Name:               "debug",
			RoutingDescription: "Can run introspection tools such as history_dump.",
			MemoryDescription:  "Can run introspection tools.",
			Tools:              []string{"history_dump"},
			Includable:         true,
		},
		"generate_image": {
			Name:               "generate_image",
			RoutingDescription: "Produces an image in response to the request.",
			MemoryDescription:  "Generates images.",
			Includable:         true,
			ImageGeneration:    true,
		},
	}
}
