package council

import (
	"fmt"
	"strings"

	"github.com/haricheung/overseer/internal/types"
)

const advisorSystem = `You are %s, %s, sitting on the strategic council of a community platform.
%s
Stay in character. Be concrete and actionable.`

const advisorPrompt = `Topic: %s

Propose exactly two distinct, concrete solutions from your area of expertise.
Write each solution as one paragraph and separate them with a blank line.
No preamble, no headings, no closing remarks.`

const critiqueSystem = `You are the moderator of a strategic council meeting. You write the meeting transcript.
Every line is "Name: text" spoken by one participant. Participants challenge each other's pinned solutions,
point out risks and build on strong ideas. Keep it to 6–12 lines.
The final line is "Consensus: <the position the council converged on>".`

const decreeSystem = `You are the council secretary. Write the final decree for the topic: a short, decisive summary
of what the council resolved and why.

After the prose, output a fenced JSON array of executable actions (may be empty):
` + "```json" + `
[{"id": "a1", "type": "<action type>", "label": "<button label>", "description": "<what it does>", "payload": {...}}]
` + "```" + `
Action types and payloads:
- publish_announcement    {"title": string, "content": string}
- mass_grant_points       {"amount": int, "reason": string, "targetSegment": "all" | <segment name>}
- create_flash_campaign   {"name": string, "goalAmount": int}
- update_site_navigation  {"category": string, "title": string, "description": string, "viewName": string, "iconName": string}`

func buildAdvisorRequest(a Advisor, topic string) (system, prompt string) {
	return fmt.Sprintf(advisorSystem, a.Name, a.Title, a.Persona), fmt.Sprintf(advisorPrompt, topic)
}

func buildCritiquePrompt(topic string, team []Advisor, pins []types.PinnedSolution) string {
	names := make(map[string]string, len(team))
	var sb strings.Builder
	fmt.Fprintf(&sb, "Topic: %s\n\nParticipants:\n", topic)
	for _, a := range team {
		names[a.ID] = a.Name
		fmt.Fprintf(&sb, "- %s (%s)\n", a.Name, a.Title)
	}
	sb.WriteString("\nPinned solutions:\n")
	for i, p := range pins {
		author := names[p.AdvisorID]
		if author == "" {
			author = p.AdvisorID
		}
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, author, p.Text)
	}
	sb.WriteString("\nWrite the transcript.")
	return sb.String()
}

func buildDecreePrompt(topic string, pins []types.PinnedSolution, meeting []types.MeetingLogEntry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Topic: %s\n\nPinned solutions:\n", topic)
	for i, p := range pins {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, p.Text)
	}
	sb.WriteString("\nMeeting transcript:\n")
	for _, m := range meeting {
		fmt.Fprintf(&sb, "%s: %s\n", m.SpeakerID, m.Text)
	}
	sb.WriteString("\nWrite the decree.")
	return sb.String()
}
