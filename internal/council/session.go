// Package council runs the multi-stage strategic council workflow:
// discovery → assembly → brainstorm → critique → execution.
//
// Every stage transition is an explicit call. Generation steps (brainstorm,
// critique, decree) block until their streams finish; partial text is visible
// through Snapshot and the bus while they run.
package council

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/haricheung/overseer/internal/bus"
	"github.com/haricheung/overseer/internal/llm"
	"github.com/haricheung/overseer/internal/orchestrator"
	"github.com/haricheung/overseer/internal/plan"
	"github.com/haricheung/overseer/internal/stream"
	"github.com/haricheung/overseer/internal/tasklog"
	"github.com/haricheung/overseer/internal/types"
)

// Stage is one step of the council workflow.
type Stage string

const (
	StageDiscovery  Stage = "discovery"
	StageAssembly   Stage = "assembly"
	StageBrainstorm Stage = "brainstorm"
	StageCritique   Stage = "critique"
	StageExecution  Stage = "execution"
)

const (
	DefaultMaxTeam     = 6
	DefaultMaxPins     = 3
	DefaultTeamSize    = 4
	critiqueRequestKey = "critique"
	decreeRequestKey   = "decree"
)

var (
	ErrWrongStage         = errors.New("council: operation not allowed in the current stage")
	ErrBusy               = errors.New("council: a generation step is already running")
	ErrEmptyTopic         = errors.New("council: topic is empty")
	ErrUnknownAdvisor     = errors.New("council: unknown advisor")
	ErrTeamFull           = errors.New("council: team is full")
	ErrEmptyTeam          = errors.New("council: team is empty")
	ErrBadSolution        = errors.New("council: no such solution")
	ErrPinLimit           = errors.New("council: pin limit reached")
	ErrNoPins             = errors.New("council: pin at least one solution first")
	ErrCritiqueIncomplete = errors.New("council: critique has not completed")
	ErrUnknownAction      = errors.New("council: unknown decree action")
	ErrActionExecuted     = errors.New("council: action already executed")
)

// Config bounds a session and lists the advisors it can seat.
type Config struct {
	MaxTeam     int       `yaml:"max_team"`
	MaxPins     int       `yaml:"max_pins"`
	DefaultTeam int       `yaml:"default_team"`
	Advisors    []Advisor `yaml:"advisors"`
	Suggestions []string  `yaml:"suggestions"`
}

func (c Config) withDefaults() Config {
	if c.MaxTeam <= 0 {
		c.MaxTeam = DefaultMaxTeam
	}
	if c.MaxPins <= 0 {
		c.MaxPins = DefaultMaxPins
	}
	if c.DefaultTeam <= 0 {
		c.DefaultTeam = DefaultTeamSize
	}
	if c.DefaultTeam > c.MaxTeam {
		c.DefaultTeam = c.MaxTeam
	}
	return c
}

// Dispatcher routes decree actions through the risk gate.
// *orchestrator.Orchestrator satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd types.Command, source types.Source, rl *tasklog.RunLog) orchestrator.Disposition
}

// View is a point-in-time copy of a session.
type View struct {
	ID           string
	Stage        Stage
	Topic        string
	Team         []Advisor
	Proposals    []types.Proposal // team order
	Pins         []types.PinnedSolution
	Meeting      []types.MeetingLogEntry
	CritiqueRaw  string
	CritiqueDone bool
	Decree       *types.Decree
	Executed     map[string]bool
	Busy         bool
}

// Session is one council run.
//
// Expectations:
//   - Stages only move forward, one step at a time; Restart is the only way back
//   - SetTopic computes the default team and moves discovery → assembly
//   - The team never exceeds MaxTeam and must be non-empty to brainstorm
//   - Brainstorm streams one request per advisor concurrently; one advisor failing never affects another
//   - Each proposal is finalized into solutions when its stream ends; a failed stream marks it errored
//   - RetryProposal resets the advisor's proposal before re-streaming; output from the superseded attempt is ignored
//   - At most MaxPins solutions can be pinned; critique requires at least one pin
//   - Critique parses the transcript line by line and completes only when its stream ends without error
//   - Decree actions dispatch through the risk gate and are marked executed exactly once
//   - A generation step in flight rejects every other mutating call with ErrBusy
type Session struct {
	b        *bus.Bus
	gen      llm.Generator
	acc      *stream.Accumulator
	dispatch Dispatcher
	runs     *tasklog.Registry
	cfg      Config
	roster   map[string]Advisor

	mu           sync.Mutex
	id           string
	rl           *tasklog.RunLog
	stage        Stage
	topic        string
	team         []string
	proposals    map[string]*types.Proposal
	attempts     map[string]int
	pins         []types.PinnedSolution
	meeting      []types.MeetingLogEntry
	critiqueRaw  string
	critiqueDone bool
	decree       *types.Decree
	executed     map[string]bool
	busy         bool
}

// NewSession starts a session in discovery. runs and b may be nil.
func NewSession(b *bus.Bus, gen llm.Generator, acc *stream.Accumulator, dispatch Dispatcher, runs *tasklog.Registry, cfg Config) *Session {
	cfg = cfg.withDefaults()
	roster := make(map[string]Advisor, len(cfg.Advisors))
	for _, a := range cfg.Advisors {
		roster[a.ID] = a
	}
	if acc == nil {
		acc = stream.New(b, types.RoleCouncil)
	}
	s := &Session{b: b, gen: gen, acc: acc, dispatch: dispatch, runs: runs, cfg: cfg, roster: roster}
	s.reset()
	return s
}

// reset must be called with s.mu held (or before s is shared).
func (s *Session) reset() {
	s.id = uuid.New().String()
	s.rl = s.runs.Open(s.id, string(types.SourceCouncil))
	s.stage = StageDiscovery
	s.topic = ""
	s.team = nil
	s.proposals = make(map[string]*types.Proposal)
	s.attempts = make(map[string]int)
	s.pins = nil
	s.meeting = nil
	s.critiqueRaw = ""
	s.critiqueDone = false
	s.decree = nil
	s.executed = make(map[string]bool)
}

// ID returns the current session id. It changes on Restart.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Stage returns the current stage.
func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Roster returns the configured advisors.
func (s *Session) Roster() []Advisor {
	return append([]Advisor(nil), s.cfg.Advisors...)
}

// Suggestions returns the pre-set topics.
func (s *Session) Suggestions() []string {
	return append([]string(nil), s.cfg.Suggestions...)
}

// guard checks stage and busy state. Caller holds s.mu.
func (s *Session) guard(want Stage) error {
	if s.busy {
		return ErrBusy
	}
	if s.stage != want {
		return fmt.Errorf("%w: in %s, need %s", ErrWrongStage, s.stage, want)
	}
	return nil
}

// moveTo changes stage and announces it. Caller holds s.mu.
func (s *Session) moveTo(to Stage) {
	from := s.stage
	s.stage = to
	s.rl.Stage(string(from), string(to))
	log.Printf("[COUNCIL] session=%s stage %s → %s", s.id, from, to)
	s.b.Emit(types.RoleCouncil, types.RoleUser, types.MsgStageChanged, types.StageChange{
		SessionID: s.id,
		From:      string(from),
		To:        string(to),
	})
}

// SetTopic records the topic, seats the suggested team and enters assembly.
func (s *Session) SetTopic(topic string) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return ErrEmptyTopic
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(StageDiscovery); err != nil {
		return err
	}
	s.topic = topic
	s.team = SuggestTeam(topic, s.cfg.Advisors, s.cfg.DefaultTeam, s.cfg.MaxTeam)
	s.moveTo(StageAssembly)
	return nil
}

// AddAdvisor seats id. Seating an advisor already on the team is a no-op.
func (s *Session) AddAdvisor(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(StageAssembly); err != nil {
		return err
	}
	if _, ok := s.roster[id]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAdvisor, id)
	}
	for _, t := range s.team {
		if t == id {
			return nil
		}
	}
	if len(s.team) >= s.cfg.MaxTeam {
		return ErrTeamFull
	}
	s.team = append(s.team, id)
	return nil
}

// RemoveAdvisor unseats id. Removing an advisor not on the team is a no-op.
func (s *Session) RemoveAdvisor(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(StageAssembly); err != nil {
		return err
	}
	for i, t := range s.team {
		if t == id {
			s.team = append(s.team[:i:i], s.team[i+1:]...)
			return nil
		}
	}
	return nil
}

// Brainstorm enters the brainstorm stage and streams one proposal per advisor
// concurrently. It returns once every stream has finished. Individual advisor
// failures are recorded on their proposals, not returned.
func (s *Session) Brainstorm(ctx context.Context) error {
	s.mu.Lock()
	if err := s.guard(StageAssembly); err != nil {
		s.mu.Unlock()
		return err
	}
	if len(s.team) == 0 {
		s.mu.Unlock()
		return ErrEmptyTeam
	}
	team := make([]Advisor, 0, len(s.team))
	attempts := make(map[string]int, len(s.team))
	for _, id := range s.team {
		team = append(team, s.roster[id])
		s.attempts[id]++
		attempts[id] = s.attempts[id]
		s.proposals[id] = &types.Proposal{AdvisorID: id, IsProcessing: true}
	}
	s.moveTo(StageBrainstorm)
	s.busy = true
	sessionID, topic, rl := s.id, s.topic, s.rl
	s.mu.Unlock()

	defer s.clearBusy(sessionID)

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range team {
		g.Go(func() error {
			s.propose(gctx, rl, sessionID, topic, a, attempts[a.ID])
			return nil
		})
	}
	return g.Wait()
}

// RetryProposal fully resets one advisor's proposal and streams it again.
func (s *Session) RetryProposal(ctx context.Context, advisorID string) error {
	s.mu.Lock()
	if err := s.guard(StageBrainstorm); err != nil {
		s.mu.Unlock()
		return err
	}
	if _, ok := s.proposals[advisorID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownAdvisor, advisorID)
	}
	s.attempts[advisorID]++
	attempt := s.attempts[advisorID]
	s.proposals[advisorID] = &types.Proposal{AdvisorID: advisorID, IsProcessing: true}
	kept := s.pins[:0:0]
	for _, p := range s.pins {
		if p.AdvisorID != advisorID {
			kept = append(kept, p)
		}
	}
	s.pins = kept
	s.busy = true
	a, sessionID, topic, rl := s.roster[advisorID], s.id, s.topic, s.rl
	s.mu.Unlock()

	defer s.clearBusy(sessionID)
	s.propose(ctx, rl, sessionID, topic, a, attempt)
	return nil
}

// clearBusy ends a generation step unless the session was restarted under it.
func (s *Session) clearBusy(sessionID string) {
	s.mu.Lock()
	if s.id == sessionID {
		s.busy = false
	}
	s.mu.Unlock()
}

// propose streams one advisor's proposal. Updates are dropped once the
// attempt has been superseded by a retry or the session restarted.
func (s *Session) propose(ctx context.Context, rl *tasklog.RunLog, sessionID, topic string, a Advisor, attempt int) {
	key := sessionID + "/" + a.ID
	system, prompt := buildAdvisorRequest(a, topic)
	s.acc.Reset(key)

	apply := func(fn func(p *types.Proposal)) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.id != sessionID || s.attempts[a.ID] != attempt {
			return
		}
		if p, ok := s.proposals[a.ID]; ok {
			fn(p)
		}
	}

	start := time.Now()
	frags, errs := s.gen.Stream(ctx, llm.Request{Prompt: prompt, SystemInstruction: system})
	text, err := s.acc.Consume(ctx, key, frags, errs, func(t string) {
		apply(func(p *types.Proposal) { p.RawOutput = t })
	})
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		rl.LLMCall("advisor", key, system, prompt, text, err.Error(), elapsed)
		log.Printf("[COUNCIL] ERROR: advisor=%s proposal failed: %v", a.ID, err)
		apply(func(p *types.Proposal) {
			p.RawOutput = text
			p.IsProcessing = false
			p.Error = true
		})
		return
	}
	rl.LLMCall("advisor", key, system, prompt, text, "", elapsed)
	sols := plan.ParseSolutions(text)
	log.Printf("[COUNCIL] advisor=%s proposal ready: %d solutions", a.ID, len(sols))
	apply(func(p *types.Proposal) {
		p.RawOutput = text
		p.Solutions = sols
		p.IsProcessing = false
	})
}

// Pin carries solution index of advisorID's proposal into critique.
// Pinning an already pinned solution is a no-op.
func (s *Session) Pin(advisorID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(StageBrainstorm); err != nil {
		return err
	}
	p, ok := s.proposals[advisorID]
	if !ok || p.IsProcessing || index < 0 || index >= len(p.Solutions) {
		return ErrBadSolution
	}
	text := p.Solutions[index]
	for _, pin := range s.pins {
		if pin.AdvisorID == advisorID && pin.Text == text {
			return nil
		}
	}
	if len(s.pins) >= s.cfg.MaxPins {
		return ErrPinLimit
	}
	s.pins = append(s.pins, types.PinnedSolution{AdvisorID: advisorID, Text: text})
	return nil
}

// Unpin removes the pin at position i of the pin list.
func (s *Session) Unpin(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(StageBrainstorm); err != nil {
		return err
	}
	if i < 0 || i >= len(s.pins) {
		return ErrBadSolution
	}
	s.pins = append(s.pins[:i:i], s.pins[i+1:]...)
	return nil
}

// Critique moves brainstorm → critique and streams the meeting transcript.
// Calling it again while in critique re-runs an incomplete critique.
func (s *Session) Critique(ctx context.Context) error {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	switch {
	case s.stage == StageBrainstorm:
		if len(s.pins) == 0 {
			s.mu.Unlock()
			return ErrNoPins
		}
		s.moveTo(StageCritique)
	case s.stage == StageCritique && !s.critiqueDone:
	default:
		err := fmt.Errorf("%w: in %s", ErrWrongStage, s.stage)
		s.mu.Unlock()
		return err
	}
	team := s.teamLocked()
	speakers := make(map[string]string, len(team))
	for _, a := range team {
		speakers[strings.ToLower(a.Name)] = a.ID
		speakers[strings.ToLower(a.ID)] = a.ID
	}
	prompt := buildCritiquePrompt(s.topic, team, s.pins)
	s.meeting = nil
	s.critiqueRaw = ""
	s.busy = true
	sessionID, rl := s.id, s.rl
	s.mu.Unlock()
	defer s.clearBusy(sessionID)

	key := sessionID + "/" + critiqueRequestKey
	s.acc.Reset(key)
	start := time.Now()
	frags, errs := s.gen.Stream(ctx, llm.Request{Prompt: prompt, SystemInstruction: critiqueSystem})
	text, err := s.acc.Consume(ctx, key, frags, errs, func(t string) {
		s.mu.Lock()
		if s.id == sessionID {
			s.critiqueRaw = t
			s.meeting = plan.ParseTranscript(t, speakers)
		}
		s.mu.Unlock()
	})
	elapsed := time.Since(start).Milliseconds()

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	rl.LLMCall("critique", key, critiqueSystem, prompt, text, errMsg, elapsed)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id != sessionID {
		return nil
	}
	s.critiqueRaw = text
	s.meeting = plan.ParseTranscript(llm.StripThinkBlocks(text), speakers)
	if err != nil {
		log.Printf("[COUNCIL] ERROR: critique failed after %d lines: %v", len(s.meeting), err)
		return fmt.Errorf("council: critique: %w", err)
	}
	s.critiqueDone = true
	log.Printf("[COUNCIL] critique complete: %d lines", len(s.meeting))
	return nil
}

// Decree moves critique → execution and synthesizes the final decree.
// Calling it again in execution before a decree exists retries the synthesis.
func (s *Session) Decree(ctx context.Context) (types.Decree, error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return types.Decree{}, ErrBusy
	}
	switch {
	case s.stage == StageCritique:
		if !s.critiqueDone {
			s.mu.Unlock()
			return types.Decree{}, ErrCritiqueIncomplete
		}
		s.moveTo(StageExecution)
	case s.stage == StageExecution && s.decree == nil:
	default:
		err := fmt.Errorf("%w: in %s", ErrWrongStage, s.stage)
		s.mu.Unlock()
		return types.Decree{}, err
	}
	prompt := buildDecreePrompt(s.topic, s.pins, s.meeting)
	s.busy = true
	sessionID, rl := s.id, s.rl
	s.mu.Unlock()
	defer s.clearBusy(sessionID)

	key := sessionID + "/" + decreeRequestKey
	s.acc.Reset(key)
	start := time.Now()
	frags, errs := s.gen.Stream(ctx, llm.Request{Prompt: prompt, SystemInstruction: decreeSystem})
	text, err := s.acc.Consume(ctx, key, frags, errs, nil)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		rl.LLMCall("decree", key, decreeSystem, prompt, text, err.Error(), elapsed)
		log.Printf("[COUNCIL] ERROR: decree failed: %v", err)
		return types.Decree{}, fmt.Errorf("council: decree: %w", err)
	}
	rl.LLMCall("decree", key, decreeSystem, prompt, text, "", elapsed)

	d := plan.ParseDecree(text)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == sessionID {
		s.decree = &d
	}
	log.Printf("[COUNCIL] decree ready: %d actions", len(d.Actions))
	return d, nil
}

// ExecuteAction dispatches decree action id. Each action runs at most once,
// whether it executes immediately or lands in the approval queue.
func (s *Session) ExecuteAction(ctx context.Context, actionID string) (orchestrator.Disposition, error) {
	s.mu.Lock()
	if err := s.guard(StageExecution); err != nil {
		s.mu.Unlock()
		return orchestrator.Disposition{}, err
	}
	if s.decree == nil {
		s.mu.Unlock()
		return orchestrator.Disposition{}, ErrUnknownAction
	}
	var action *types.SmartAction
	for i := range s.decree.Actions {
		if s.decree.Actions[i].ID == actionID {
			action = &s.decree.Actions[i]
			break
		}
	}
	if action == nil {
		s.mu.Unlock()
		return orchestrator.Disposition{}, fmt.Errorf("%w: %q", ErrUnknownAction, actionID)
	}
	if s.executed[actionID] {
		s.mu.Unlock()
		return orchestrator.Disposition{}, ErrActionExecuted
	}
	s.executed[actionID] = true
	cmd, rl := action.Command(), s.rl
	s.mu.Unlock()

	log.Printf("[COUNCIL] executing decree action %s (%s)", actionID, cmd.Type)
	return s.dispatch.Dispatch(ctx, cmd, types.SourceCouncil, rl), nil
}

// Restart abandons the session and returns to discovery under a new id.
// Streams still in flight for the old session are ignored when they finish.
func (s *Session) Restart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, from := s.id, s.stage
	s.runs.Close(old, "restarted")
	s.reset()
	s.busy = false
	log.Printf("[COUNCIL] session=%s restarted as %s", old, s.id)
	s.b.Emit(types.RoleCouncil, types.RoleUser, types.MsgStageChanged, types.StageChange{
		SessionID: s.id,
		From:      string(from),
		To:        string(StageDiscovery),
	})
}

// Close ends the session's run log.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := "closed"
	if s.stage == StageExecution && s.decree != nil {
		status = "decreed"
	}
	s.runs.Close(s.id, status)
}

func (s *Session) teamLocked() []Advisor {
	out := make([]Advisor, 0, len(s.team))
	for _, id := range s.team {
		out = append(out, s.roster[id])
	}
	return out
}

// Snapshot copies the session state.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		ID:           s.id,
		Stage:        s.stage,
		Topic:        s.topic,
		Team:         s.teamLocked(),
		Pins:         append([]types.PinnedSolution(nil), s.pins...),
		Meeting:      append([]types.MeetingLogEntry(nil), s.meeting...),
		CritiqueRaw:  s.critiqueRaw,
		CritiqueDone: s.critiqueDone,
		Executed:     make(map[string]bool, len(s.executed)),
		Busy:         s.busy,
	}
	for _, id := range s.team {
		if p, ok := s.proposals[id]; ok {
			cp := *p
			cp.Solutions = append([]string(nil), p.Solutions...)
			v.Proposals = append(v.Proposals, cp)
		}
	}
	if s.decree != nil {
		d := *s.decree
		d.Actions = append([]types.SmartAction(nil), s.decree.Actions...)
		v.Decree = &d
	}
	for k, ok := range s.executed {
		v.Executed[k] = ok
	}
	return v
}
