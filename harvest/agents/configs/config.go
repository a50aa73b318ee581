package configs

import (
	_ "embed"
	"sort"
	"strings"

	"github.com/magiconair/properties"

	"harvest/harvest/utils/logging"

	"go.uber.org/zap"
)

//go:embed agent.properties
var defaultProperties []byte

type AgentConfig struct {
	AgentName           string
	AgentRole           string
	SystemRules         string
	ResponseFormat      string
	PlannerPrompt       string
	ActionDescriptions  map[string]string
	MaxHistory          int
	MaxObservationChars int
}

// LoadConfig returns the embedded agent configuration.
func LoadConfig() *AgentConfig {
	cfg, err := Parse(defaultProperties)
	if err != nil {
		logging.AppLogger.Error("Config load error", zap.Error(err))
		return &AgentConfig{ActionDescriptions: map[string]string{}}
	}
	return cfg
}

// Load returns the configuration in path, or the embedded one when path is empty.
func Load(path string) (*AgentConfig, error) {
	if path == "" {
		return LoadConfig(), nil
	}
	return LoadFile(path)
}

// LoadFile reads an agent configuration from a properties file on disk.
func LoadFile(path string) (*AgentConfig, error) {
	props, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		return nil, err
	}
	return fromProperties(props), nil
}

// Parse reads an agent configuration from properties text.
func Parse(data []byte) (*AgentConfig, error) {
	props, err := properties.Load(data, properties.UTF8)
	if err != nil {
		return nil, err
	}
	return fromProperties(props), nil
}

func fromProperties(props *properties.Properties) *AgentConfig {
	cfg := &AgentConfig{
		AgentName:           props.GetString("agent_name", "Harvest"),
		AgentRole:           props.GetString("agent_role", ""),
		SystemRules:         props.GetString("system_rules", ""),
		ResponseFormat:      props.GetString("response_format", ""),
		PlannerPrompt:       props.GetString("planner_prompt", ""),
		ActionDescriptions:  make(map[string]string),
		MaxHistory:          props.GetInt("max_history", 12),
		MaxObservationChars: props.GetInt("max_observation_chars", 12000),
	}
	for _, key := range props.FilterStripPrefix("action.").Keys() {
		cfg.ActionDescriptions[key] = props.FilterStripPrefix("action.").GetString(key, "")
	}
	return cfg
}

// ActionCatalog renders the descriptions of the named actions, one per line.
// Actions without a description are listed by name.
func (c *AgentConfig) ActionCatalog(names []string) string {
	names = append([]string(nil), names...)
	sort.Strings(names)
	var sb strings.Builder
	for _, n := range names {
		desc, ok := c.ActionDescriptions[n]
		if !ok {
			desc = n
		}
		sb.WriteString("- ")
		sb.WriteString(desc)
		sb.WriteByte('\n')
	}
	return sb.String()
}
