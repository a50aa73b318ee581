package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"harvest/harvest/agents/configs"
	"harvest/harvest/agents/protocols"
	"harvest/harvest/services/llm"
	"harvest/harvest/utils/scraper"
)

const (
	maxOutcomeRunes = 600
	maxParamsRunes  = 300
)

// record is one entry of the run history.
type record struct {
	Step    int
	Thought string
	Action  string
	Params  json.RawMessage
	Outcome string
	Failed  bool
}

func systemPrompt(cfg *configs.AgentConfig, p protocols.Protocol, actionNames []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s, %s.\n\n", cfg.AgentName, cfg.AgentRole)
	sb.WriteString(cfg.SystemRules)
	sb.WriteString("\n\nAvailable actions:\n")
	sb.WriteString(cfg.ActionCatalog(actionNames))
	sb.WriteString("\nExtraction protocol:\n")
	sb.WriteString(strings.TrimSpace(p.Instruction))
	fmt.Fprintf(&sb, "\n\nThe final result must be a JSON %s with the fields %s.\n\n",
		p.Output.Kind, strings.Join(p.Output.Fields, ", "))
	sb.WriteString(cfg.ResponseFormat)
	return sb.String()
}

// renderHistory lists the last max records. Only the latest outcome is kept in
// full since it usually holds page content the model still has to copy.
func renderHistory(history []record, max int) string {
	if len(history) == 0 {
		return "(no actions yet)"
	}
	start := 0
	if max > 0 && len(history) > max {
		start = len(history) - max
	}
	var sb strings.Builder
	if start > 0 {
		fmt.Fprintf(&sb, "(%d earlier steps omitted)\n", start)
	}
	for i, r := range history[start:] {
		outcome := r.Outcome
		if start+i < len(history)-1 {
			outcome, _ = scraper.Truncate(outcome, maxOutcomeRunes)
		}
		params, _ := scraper.Truncate(string(r.Params), maxParamsRunes)
		status := "ok"
		if r.Failed {
			status = "failed"
		}
		fmt.Fprintf(&sb, "Step %d [%s] %s %s\n", r.Step, status, r.Action, params)
		if r.Thought != "" {
			fmt.Fprintf(&sb, "  thought: %s\n", r.Thought)
		}
		fmt.Fprintf(&sb, "  result: %s\n", outcome)
	}
	return sb.String()
}

func stepMessages(system, task, plan, history string, page scraper.PageDigest) []llm.Message {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n\n", task)
	if plan != "" {
		fmt.Fprintf(&sb, "Current plan:\n%s\n\n", plan)
	}
	fmt.Fprintf(&sb, "History:\n%s\n", history)
	sb.WriteString("Current page:\n")
	sb.WriteString(page.Render())
	sb.WriteString("\n\nChoose the next action.")
	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: sb.String()},
	}
}

func plannerMessages(cfg *configs.AgentConfig, p protocols.Protocol, task, history string, page scraper.PageDigest, screenshot []byte) []llm.Message {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n\nExtraction protocol:\n%s\n\nHistory:\n%s\nCurrent page:\n%s",
		task, strings.TrimSpace(p.Instruction), history, page.Render())
	user := llm.Message{Role: llm.RoleUser, Content: sb.String()}
	if len(screenshot) > 0 {
		user.Images = [][]byte{screenshot}
	}
	return []llm.Message{{Role: llm.RoleSystem, Content: cfg.PlannerPrompt}, user}
}
