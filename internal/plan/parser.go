// Package plan extracts structured candidates from freeform generation output.
//
// None of the parsers return errors: malformed input degrades to the most useful
// partial result (whole text as one solution, prose without actions, and so on).
package plan

import (
	"encoding/json"
	"log"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/haricheung/overseer/internal/llm"
	"github.com/haricheung/overseer/internal/types"
)

const (
	// MaxSolutions caps how many solutions are kept from one proposal.
	MaxSolutions = 2
	// minSolutionLen discards fragments of this many characters or fewer.
	minSolutionLen = 10
)

var (
	blankLineRe = regexp.MustCompile(`\n[ \t]*\n`)
	// leading enumerations and bullets: "1.", "2)", "-", "*", "•", "#", "**Solution 1:**"
	listMarkerRe = regexp.MustCompile(`(?i)^(?:\s*(?:#{1,6}\s|[-*•]\s|\d+[.)]\s|\*\*(?:solution|option)\s*\d*[.:)]?\*\*:?|(?:solution|option)\s*\d+\s*[:.)])\s*)+`)
	fenceOpenRe  = regexp.MustCompile("(?m)^[ \t]*```[a-zA-Z]*[ \t]*$")
	optionsTagRe = regexp.MustCompile(`(?s)\[\[\s*OPTIONS\s*:(.*?)\]\]`)
	boldRe       = regexp.MustCompile(`^\*\*(.+?)\*\*$`)
)

// ParseSolutions splits text into at most MaxSolutions solution candidates.
//
// Expectations:
//   - Splits on blank-line boundaries and trims each segment
//   - Discards segments of 10 characters or fewer
//   - Strips leading enumerations and bullets in a single regex pass
//   - Returns at most the first 2 surviving candidates
//   - Falls back to the whole trimmed text as one solution when nothing survives
//   - Returns nil only for empty or whitespace-only text
func ParseSolutions(text string) []string {
	raw := strings.TrimSpace(llm.StripThinkBlocks(text))
	if raw == "" {
		return nil
	}
	var out []string
	for _, seg := range blankLineRe.Split(raw, -1) {
		seg = strings.TrimSpace(seg)
		if len(seg) <= minSolutionLen {
			continue
		}
		seg = strings.TrimSpace(listMarkerRe.ReplaceAllString(seg, ""))
		if seg == "" {
			continue
		}
		out = append(out, seg)
		if len(out) == MaxSolutions {
			break
		}
	}
	if len(out) == 0 {
		return []string{raw}
	}
	return out
}

// splitFenced returns the prose before the first fenced block opener and the
// block body. ok is false when no opener exists. An unterminated block runs to
// the end of the text.
func splitFenced(text string) (prose, block string, ok bool) {
	loc := fenceOpenRe.FindStringIndex(text)
	if loc == nil {
		return strings.TrimSpace(text), "", false
	}
	prose = strings.TrimSpace(text[:loc[0]])
	body := text[loc[1]:]
	if end := strings.Index(body, "```"); end != -1 {
		body = body[:end]
	}
	return prose, strings.TrimSpace(body), true
}

// ParseDecree splits a synthesis response into prose and SmartActions.
//
// Expectations:
//   - Text is everything before the fenced block opener, trimmed
//   - Actions are decoded from the fenced JSON array
//   - Malformed JSON yields an empty (non-nil) Actions slice and untouched Text
//   - Missing fence yields the whole trimmed text and no actions
//   - Actions without an id get a fresh uuid; actions without a type are dropped
func ParseDecree(text string) types.Decree {
	prose, block, ok := splitFenced(llm.StripThinkBlocks(text))
	d := types.Decree{Text: prose, Actions: []types.SmartAction{}}
	if !ok || block == "" {
		return d
	}
	var actions []types.SmartAction
	if err := json.Unmarshal([]byte(block), &actions); err != nil {
		log.Printf("[PARSER] WARNING: decree block is not a JSON action array: %v", err)
		return d
	}
	for _, a := range actions {
		if a.Type == "" {
			continue
		}
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		if a.Label == "" {
			a.Label = a.Type.Label()
		}
		d.Actions = append(d.Actions, a)
	}
	return d
}

// ParseCommands extracts the autopilot plan: the prose plus the commands in the
// trailing fenced JSON block. A response that is a bare JSON array is accepted
// as commands with no prose.
//
// Expectations:
//   - Returns prose and commands from "prose + fenced array" responses
//   - Accepts a bare JSON array with no fence
//   - Malformed JSON yields no commands and keeps the prose
//   - Commands with an empty type are dropped
func ParseCommands(text string) (string, []types.Command) {
	clean := llm.StripThinkBlocks(text)
	if strings.HasPrefix(clean, "[") {
		var actions []types.SmartAction
		if err := json.Unmarshal([]byte(clean), &actions); err == nil {
			return "", toCommands(actions)
		}
	}
	d := ParseDecree(clean)
	return d.Text, toCommands(d.Actions)
}

func toCommands(actions []types.SmartAction) []types.Command {
	cmds := make([]types.Command, 0, len(actions))
	for _, a := range actions {
		if a.Type == "" {
			continue
		}
		cmds = append(cmds, a.Command())
	}
	return cmds
}

// ParseOptions strips a trailing [[OPTIONS: a | b | c]] tag from text and
// returns the follow-up suggestions it carried.
//
// Expectations:
//   - Returns the text with the tag removed and trimmed
//   - Splits options on "|" and trims each; empty options are dropped
//   - Absence of the tag returns the trimmed text and nil options
func ParseOptions(text string) (string, []string) {
	m := optionsTagRe.FindStringSubmatchIndex(text)
	if m == nil {
		return strings.TrimSpace(text), nil
	}
	inner := text[m[2]:m[3]]
	clean := strings.TrimSpace(text[:m[0]] + text[m[1]:])
	var opts []string
	for _, o := range strings.Split(inner, "|") {
		if o = strings.TrimSpace(o); o != "" {
			opts = append(opts, o)
		}
	}
	return clean, opts
}

// ConsensusSpeaker is the transcript speaker whose lines are the closing consensus.
const ConsensusSpeaker = "consensus"

// ParseTranscript parses a multi-speaker "Speaker: text" transcript, one entry
// per line. speakers maps lowercased display names to ids; unknown names are
// kept verbatim.
//
// Expectations:
//   - Lines without a colon are dropped
//   - Lines with an empty speaker or empty text are dropped
//   - Markdown bold around the speaker ("**Ada**:" or "**Ada:**") is stripped
//   - Known display names resolve to their ids (case-insensitive)
//   - Speaker "Consensus" (any case) yields kind consensus; everything else critique
func ParseTranscript(text string, speakers map[string]string) []types.MeetingLogEntry {
	var out []types.MeetingLogEntry
	for _, line := range strings.Split(text, "\n") {
		if e, ok := ParseTranscriptLine(line, speakers); ok {
			out = append(out, e)
		}
	}
	return out
}

// ParseTranscriptLine parses a single transcript line.
func ParseTranscriptLine(line string, speakers map[string]string) (types.MeetingLogEntry, bool) {
	line = strings.TrimSpace(line)
	line = strings.TrimLeft(line, "-• ")
	line = strings.TrimPrefix(line, "* ")
	if strings.HasPrefix(line, "**") {
		// "**Ada:** text" → "**Ada**: text"
		if i := strings.Index(line, ":**"); i != -1 {
			line = line[:i] + "**:" + line[i+3:]
		}
	}
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return types.MeetingLogEntry{}, false
	}
	speaker := strings.TrimSpace(line[:idx])
	if m := boldRe.FindStringSubmatch(speaker); m != nil {
		speaker = strings.TrimSpace(m[1])
	}
	body := strings.TrimSpace(line[idx+1:])
	if speaker == "" || body == "" {
		return types.MeetingLogEntry{}, false
	}
	kind := types.KindCritique
	if strings.EqualFold(speaker, ConsensusSpeaker) {
		kind = types.KindConsensus
		speaker = ConsensusSpeaker
	} else if id, ok := speakers[strings.ToLower(speaker)]; ok {
		speaker = id
	}
	return types.MeetingLogEntry{SpeakerID: speaker, Text: body, Kind: kind}, true
}
