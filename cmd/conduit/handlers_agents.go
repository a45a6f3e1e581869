package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/outpostlabs/conduit/internal/config"
)

func runAgentsList(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	out := cmd.OutOrStdout()
	for _, a := range cfg.Agents {
		status := "enabled"
		if !a.IsEnabled() {
			status = "disabled"
		}
		fmt.Fprintf(out, "%-20s %-10s %-10s %-10s %s\n", a.ID, status, a.Provider, a.Model, a.Channel.Type)
	}
	return nil
}

func runAgentsShow(cmd *cobra.Command, configPath, agentID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	out := cmd.OutOrStdout()
	for _, a := range cfg.Agents {
		if a.ID != agentID {
			continue
		}
		fmt.Fprintf(out, "id:              %s\n", a.ID)
		fmt.Fprintf(out, "name:            %s\n", a.Name)
		fmt.Fprintf(out, "enabled:         %t\n", a.IsEnabled())
		fmt.Fprintf(out, "provider/model:  %s/%s\n", a.Provider, a.Model)
		fmt.Fprintf(out, "channel:         %s (%s)\n", a.Channel.Type, a.Channel.ChatID)
		fmt.Fprintf(out, "daily budget:    $%.2f\n", a.DailyBudgetUSD)
		fmt.Fprintf(out, "timezone:        %s\n", a.Timezone)
		fmt.Fprintf(out, "permissions:     internet=%t calendar=%t gmail=%t media=%t terminal=%t code=%t\n",
			a.Permissions.Internet, a.Permissions.Calendar, a.Permissions.Gmail, a.Permissions.Media, a.Permissions.Terminal, a.Permissions.Code)
		fmt.Fprintf(out, "extension servers: %d\n", len(a.ExtensionServers))
		return nil
	}
	return fmt.Errorf("no such agent: %s", agentID)
}

// runAgentsSetEnabled rewrites the agent's "enabled" key in place via the
// raw YAML document tree, leaving every other key, comment and ordering
// untouched. It does not go through config.Load/marshal round-tripping,
// which would lose comments and key order.
func runAgentsSetEnabled(cmd *cobra.Command, configPath, agentID string, enabled bool) error {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if len(doc.Content) == 0 {
		return fmt.Errorf("empty config document")
	}
	root := doc.Content[0]

	agentNode := findAgentNode(root, agentID)
	if agentNode == nil {
		return fmt.Errorf("no such agent: %s", agentID)
	}
	setMappingBool(agentNode, "enabled", enabled)

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("render config: %w", err)
	}
	if err := os.WriteFile(configPath, out, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "agent %q enabled=%t\n", agentID, enabled)
	return nil
}

// findAgentNode walks root.agents looking for the mapping node whose id
// key matches agentID.
func findAgentNode(root *yaml.Node, agentID string) *yaml.Node {
	agentsSeq := mappingValue(root, "agents")
	if agentsSeq == nil || agentsSeq.Kind != yaml.SequenceNode {
		return nil
	}
	for _, item := range agentsSeq.Content {
		if idNode := mappingValue(item, "id"); idNode != nil && idNode.Value == agentID {
			return item
		}
	}
	return nil
}

// mappingValue returns the value node for key in a mapping node, or nil.
func mappingValue(mapping *yaml.Node, key string) *yaml.Node {
	if mapping == nil || mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

// setMappingBool sets key to value in mapping, appending a new key/value
// pair if key isn't already present.
func setMappingBool(mapping *yaml.Node, key string, value bool) {
	valueStr := "false"
	if value {
		valueStr = "true"
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			mapping.Content[i+1].Value = valueStr
			mapping.Content[i+1].Tag = "!!bool"
			return
		}
	}
	mapping.Content = append(mapping.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Value: valueStr, Tag: "!!bool"},
	)
}
