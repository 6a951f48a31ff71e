package prompts

import (
	"embed"
	"errors"
	"fmt"
	"strings"
)

//go:embed templates/*.txt
var templateFS embed.FS

// AgentType identifies the conversational role driving a conversation.
type AgentType string

const (
	AgentRenewal    AgentType = "renewal"
	AgentPolicyInfo AgentType = "policy_info"
	AgentCrossSell  AgentType = "crosssell"
)

// ErrUnknownAgentType is returned for agent types outside the closed set.
var ErrUnknownAgentType = errors.New("unknown agent type")

// AgentTypes lists every supported agent type.
func AgentTypes() []AgentType {
	return []AgentType{AgentRenewal, AgentPolicyInfo, AgentCrossSell}
}

// ParseAgentType validates the raw value against the supported agent types.
func ParseAgentType(value string) (AgentType, error) {
	normalized := AgentType(strings.ToLower(strings.TrimSpace(value)))
	for _, agent := range AgentTypes() {
		if agent == normalized {
			return agent, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAgentType, value)
}

// Valid reports whether the agent type is one of the supported values.
func (a AgentType) Valid() bool {
	_, err := ParseAgentType(string(a))
	return err == nil
}

// defaultContext holds the substitutions used when a caller omits a placeholder value.
var defaultContext = map[string]any{
	"customer_name":      "Customer",
	"policy_id":          "N/A",
	"due_date":           "N/A",
	"outstanding_amount": "0",
	"policy_type":        "General",
	"policy_value":       "0",
}

// Resolver serves the embedded system prompt templates by agent type.
type Resolver struct {
	templates map[AgentType]string
}

// NewResolver loads the embedded templates.
func NewResolver() (*Resolver, error) {
	templates := make(map[AgentType]string, len(AgentTypes()))
	for _, agent := range AgentTypes() {
		data, err := templateFS.ReadFile("templates/" + string(agent) + ".txt")
		if err != nil {
			return nil, fmt.Errorf("read %s template: %w", agent, err)
		}
		templates[agent] = strings.TrimSpace(string(data))
	}
	return &Resolver{templates: templates}, nil
}

// Prompt returns the raw template for the agent type.
func (r *Resolver) Prompt(agent AgentType) (string, error) {
	tpl, ok := r.templates[agent]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAgentType, agent)
	}
	return tpl, nil
}

// Fill substitutes {key} placeholders. Keys missing from values fall back to named defaults.
func (r *Resolver) Fill(template string, values map[string]any) string {
	return Fill(template, values)
}

// Fill substitutes {key} placeholders in template.
func Fill(template string, values map[string]any) string {
	merged := make(map[string]any, len(defaultContext)+len(values))
	for key, value := range defaultContext {
		merged[key] = value
	}
	for key, value := range values {
		if value == nil {
			continue
		}
		if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		merged[key] = value
	}

	out := template
	for key, value := range merged {
		out = strings.ReplaceAll(out, "{"+key+"}", fmt.Sprint(value))
	}
	return out
}
