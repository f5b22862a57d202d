// Package planner asks the generation client for the next autopilot plan and
// answers operator questions about the platform.
package planner

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/haricheung/overseer/internal/bus"
	"github.com/haricheung/overseer/internal/llm"
	"github.com/haricheung/overseer/internal/plan"
	"github.com/haricheung/overseer/internal/stream"
	"github.com/haricheung/overseer/internal/tasklog"
	"github.com/haricheung/overseer/internal/types"
)

// DefaultContextEntries is how many recent audit entries are fed into a plan prompt.
const DefaultContextEntries = 10

const systemPrompt = `You are the Overseer — an autonomous operator for a community platform.
Each cycle you review the platform state and the recent action history, then decide what (if anything) to do next.

Rules:
- Propose at most 3 actions per cycle. Proposing nothing is acceptable when nothing is needed.
- Do NOT repeat the most recent action type unless the situation clearly demands it.
- High-impact actions (point grants, campaigns, navigation changes) go to a human for approval; still propose them when warranted.

Available action types and payloads:
- publish_announcement    {"title": string, "content": string}
- mass_grant_points       {"amount": int, "reason": string, "targetSegment": "all" | <segment name>}
- create_flash_campaign   {"name": string, "goalAmount": int}
- update_site_navigation  {"category": string, "title": string, "description": string, "viewName": string, "iconName": string}

Output format: one or two short paragraphs of reasoning, then a fenced JSON array:
` + "```json" + `
[{"type": "<action type>", "label": "<short label>", "description": "<why>", "payload": {...}}]
` + "```" + `
Use an empty array [] when no action is needed.`

const askPrompt = `You are the Overseer — an operator assistant for a community platform.
Answer the operator's question concisely using the platform state and action history below.
End your reply with one tag of 2–4 short follow-up questions the operator might ask next:
[[OPTIONS: first | second | third]]`

// ContextSource renders recent audit history for a prompt. *auditor.Log satisfies it.
type ContextSource interface {
	Context(n int) string
}

// StateSource summarises platform state for a prompt. *platform.State satisfies it.
type StateSource interface {
	Summary() string
}

// Plan is the parsed result of one planning request.
type Plan struct {
	CycleID  string          `json:"cycle_id"`
	Prose    string          `json:"prose"`
	Commands []types.Command `json:"commands"`
	Raw      string          `json:"raw"`
}

// Reply is an answer to an operator question.
type Reply struct {
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
}

// Planner builds plan prompts and parses the streamed response.
//
// Expectations:
//   - The prompt carries the platform summary and the recent audit context
//   - Streams the response through the accumulator keyed by cycle id
//   - Returns prose and commands parsed from the completed text
//   - A generation failure returns an error and no commands, even when partial text arrived
//   - Publishes MsgPlanReady for every successful plan
type Planner struct {
	gen            llm.Generator
	acc            *stream.Accumulator
	b              *bus.Bus
	audit          ContextSource
	state          StateSource
	contextEntries int
}

// New creates a Planner. contextEntries <= 0 uses DefaultContextEntries.
func New(b *bus.Bus, gen llm.Generator, acc *stream.Accumulator, audit ContextSource, state StateSource, contextEntries int) *Planner {
	if contextEntries <= 0 {
		contextEntries = DefaultContextEntries
	}
	return &Planner{gen: gen, acc: acc, b: b, audit: audit, state: state, contextEntries: contextEntries}
}

// buildPrompt assembles the user prompt for one planning cycle.
func buildPrompt(stateSummary, auditContext string, now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Current time: %s\n\n", now.UTC().Format(time.RFC3339))
	sb.WriteString("Platform state:\n")
	sb.WriteString(stateSummary)
	sb.WriteString("\n\n")
	sb.WriteString(auditContext)
	sb.WriteString("\n\nDecide the next actions.")
	return sb.String()
}

func (p *Planner) contextBlocks() (string, string) {
	state := "(unavailable)"
	if p.state != nil {
		state = p.state.Summary()
	}
	audit := "No actions have been taken yet."
	if p.audit != nil {
		audit = p.audit.Context(p.contextEntries)
	}
	return state, audit
}

// Plan requests and parses the plan for cycleID. rl may be nil.
func (p *Planner) Plan(ctx context.Context, cycleID string, rl *tasklog.RunLog) (Plan, error) {
	state, audit := p.contextBlocks()
	prompt := buildPrompt(state, audit, time.Now())

	log.Printf("[PLANNER] cycle=%s requesting plan", cycleID)
	start := time.Now()
	p.acc.Reset(cycleID)
	frags, errs := p.gen.Stream(ctx, llm.Request{Prompt: prompt, SystemInstruction: systemPrompt})
	text, err := p.acc.Consume(ctx, cycleID, frags, errs, nil)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		rl.LLMCall("planner", cycleID, systemPrompt, prompt, text, err.Error(), elapsed)
		log.Printf("[PLANNER] ERROR: cycle=%s generation failed after %d chars: %v", cycleID, len(text), err)
		return Plan{CycleID: cycleID, Raw: text}, fmt.Errorf("planner: generate: %w", err)
	}
	rl.LLMCall("planner", cycleID, systemPrompt, prompt, text, "", elapsed)

	prose, cmds := plan.ParseCommands(text)
	out := Plan{CycleID: cycleID, Prose: prose, Commands: cmds, Raw: text}
	log.Printf("[PLANNER] cycle=%s plan ready: %d commands", cycleID, len(cmds))
	p.b.Emit(types.RolePlanner, types.RoleExecutor, types.MsgPlanReady, out)
	return out, nil
}

// Ask answers an operator question with a buffered generation request.
func (p *Planner) Ask(ctx context.Context, question string) (Reply, error) {
	state, audit := p.contextBlocks()
	prompt := fmt.Sprintf("Platform state:\n%s\n\n%s\n\nQuestion: %s", state, audit, strings.TrimSpace(question))
	text, err := p.gen.Generate(ctx, llm.Request{Prompt: prompt, SystemInstruction: askPrompt})
	if err != nil {
		return Reply{}, fmt.Errorf("planner: ask: %w", err)
	}
	clean, opts := plan.ParseOptions(llm.StripThinkBlocks(text))
	return Reply{Text: clean, Options: opts}, nil
}
