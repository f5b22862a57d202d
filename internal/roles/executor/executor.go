// Package executor is the execution engine: a closed set of handlers, one per
// action type, that mutate platform state and describe what they did.
//
// Every call to Execute or Reject produces exactly one audit entry.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/haricheung/overseer/internal/platform"
	"github.com/haricheung/overseer/internal/types"
)

var metricActions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "overseer",
	Name:      "actions_total",
	Help:      "Execution attempts by action type and outcome.",
}, []string{"type", "outcome"})

// Recorder appends audit entries. *auditor.Log satisfies it.
type Recorder interface {
	Append(ctx context.Context, e types.AuditEntry) (types.AuditEntry, error)
}

// Engine dispatches commands to their handlers.
//
// Expectations:
//   - Each known action type mutates its platform surface and records one executed entry
//   - Details include counts (e.g. "N users affected")
//   - An action type with no handler records one entry tagged unknown and mutates nothing
//   - A handler error records one failed entry and leaves state untouched
//   - A handler panic is recovered and recorded as one failed entry
//   - Reject records one rejected entry naming the action's label and never executes it
type Engine struct {
	state *platform.State
	audit Recorder
}

// New creates an Engine. Platform state is read through state at call time.
func New(state *platform.State, audit Recorder) *Engine {
	return &Engine{state: state, audit: audit}
}

// Execute runs cmd and returns the audit entry it recorded.
func (e *Engine) Execute(ctx context.Context, cmd types.Command, source types.Source) types.AuditEntry {
	actionType, outcome, details := e.run(cmd)
	log.Printf("[EXECUTOR] %s %s (source=%s): %s", outcome, cmd.Type, source, details)
	return e.record(ctx, types.AuditEntry{
		ActionType: actionType,
		Details:    details,
		Outcome:    outcome,
		Source:     source,
	})
}

// Reject records that cmd was declined by a human. The command is not executed.
func (e *Engine) Reject(ctx context.Context, cmd types.Command, source types.Source) types.AuditEntry {
	details := fmt.Sprintf("Rejected: %s", label(cmd))
	log.Printf("[EXECUTOR] rejected %s (source=%s)", cmd.Type, source)
	return e.record(ctx, types.AuditEntry{
		ActionType: cmd.Type,
		Details:    details,
		Outcome:    types.OutcomeRejected,
		Source:     source,
	})
}

func (e *Engine) record(ctx context.Context, entry types.AuditEntry) types.AuditEntry {
	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now().UTC()
	metricActions.WithLabelValues(string(entry.ActionType), string(entry.Outcome)).Inc()
	if e.audit == nil {
		return entry
	}
	stored, err := e.audit.Append(ctx, entry)
	if err != nil {
		log.Printf("[EXECUTOR] ERROR: audit append failed for %s: %v", entry.ID, err)
		return entry
	}
	return stored
}

// run dispatches cmd and converts every failure mode into an outcome.
func (e *Engine) run(cmd types.Command) (actionType types.ActionType, outcome types.Outcome, details string) {
	actionType = cmd.Type
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[EXECUTOR] ERROR: handler for %s panicked: %v", cmd.Type, r)
			actionType, outcome, details = cmd.Type, types.OutcomeFailed, fmt.Sprintf("Failed: %s: handler panicked: %v", label(cmd), r)
		}
	}()

	var err error
	switch cmd.Type {
	case types.ActionMassGrantPoints:
		var p types.MassGrantPoints
		if err = cmd.Decode(&p); err == nil {
			details, err = e.grantPoints(p)
		}
	case types.ActionCreateFlashCampaign:
		var p types.CreateFlashCampaign
		if err = cmd.Decode(&p); err == nil {
			details, err = e.createCampaign(p)
		}
	case types.ActionPublishAnnouncement:
		var p types.PublishAnnouncement
		if err = cmd.Decode(&p); err == nil {
			details, err = e.publishAnnouncement(p)
		}
	case types.ActionUpdateSiteNavigation:
		var p types.UpdateSiteNavigation
		if err = cmd.Decode(&p); err == nil {
			details, err = e.updateNavigation(p)
		}
	default:
		return types.ActionUnknown, types.OutcomeUnknown, fmt.Sprintf("Unknown action type %q: no handler", cmd.Type)
	}
	if err != nil {
		return cmd.Type, types.OutcomeFailed, fmt.Sprintf("Failed: %s: %v", label(cmd), err)
	}
	return cmd.Type, types.OutcomeExecuted, details
}

func label(cmd types.Command) string {
	if cmd.Label != "" {
		return cmd.Label
	}
	return cmd.Type.Label()
}

var (
	errInvalidAmount = errors.New("amount must be positive")
	errMissingName   = errors.New("name is required")
	errMissingTitle  = errors.New("title is required")
	errDuplicateView = errors.New("navigation entry already exists")
)

func (e *Engine) grantPoints(p types.MassGrantPoints) (string, error) {
	if p.Amount <= 0 {
		return "", errInvalidAmount
	}
	affected := 0
	err := e.state.Users.Update(func(users []platform.User) ([]platform.User, error) {
		for i := range users {
			if platform.InSegment(users[i], p.TargetSegment) {
				users[i].Points += p.Amount
				affected++
			}
		}
		return users, nil
	})
	if err != nil {
		return "", err
	}
	seg := p.TargetSegment
	if seg == "" {
		seg = platform.SegmentAll
	}
	details := fmt.Sprintf("Granted %d points to segment %q: %d users affected", p.Amount, seg, affected)
	if p.Reason != "" {
		details += " (" + p.Reason + ")"
	}
	return details, nil
}

func (e *Engine) createCampaign(p types.CreateFlashCampaign) (string, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return "", errMissingName
	}
	if p.GoalAmount < 0 {
		return "", errInvalidAmount
	}
	total := 0
	err := e.state.Campaigns.Update(func(cs []platform.Campaign) ([]platform.Campaign, error) {
		c := platform.Campaign{ID: uuid.New().String(), Name: name, GoalAmount: p.GoalAmount, CreatedAt: time.Now().UTC()}
		cs = append([]platform.Campaign{c}, cs...)
		total = len(cs)
		return cs, nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Launched flash campaign %q with goal %d (%d campaigns active)", name, p.GoalAmount, total), nil
}

func (e *Engine) publishAnnouncement(p types.PublishAnnouncement) (string, error) {
	title := strings.TrimSpace(p.Title)
	if title == "" {
		return "", errMissingTitle
	}
	total := 0
	err := e.state.Posts.Update(func(posts []platform.Post) ([]platform.Post, error) {
		post := platform.Post{
			ID:        uuid.New().String(),
			Title:     title,
			Content:   p.Content,
			Author:    "Overseer",
			CreatedAt: time.Now().UTC(),
		}
		posts = append([]platform.Post{post}, posts...)
		total = len(posts)
		return posts, nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Published announcement %q to the community feed (%d posts)", title, total), nil
}

func (e *Engine) updateNavigation(p types.UpdateSiteNavigation) (string, error) {
	title := strings.TrimSpace(p.Title)
	if title == "" {
		return "", errMissingTitle
	}
	category := strings.TrimSpace(p.Category)
	if category == "" {
		category = "General"
	}
	entry := platform.NavEntry{Title: title, Description: p.Description, ViewName: p.ViewName, IconName: p.IconName}
	created := false
	entries := 0
	err := e.state.Navigation.Update(func(cats []platform.NavCategory) ([]platform.NavCategory, error) {
		idx := -1
		for i, c := range cats {
			if strings.EqualFold(c.Name, category) {
				idx = i
				break
			}
		}
		if idx == -1 {
			cats = append(cats, platform.NavCategory{Name: category})
			idx = len(cats) - 1
			created = true
		}
		for _, existing := range cats[idx].Entries {
			if strings.EqualFold(existing.Title, entry.Title) || (entry.ViewName != "" && existing.ViewName == entry.ViewName) {
				return nil, fmt.Errorf("%w: %q in %s", errDuplicateView, title, cats[idx].Name)
			}
		}
		cats[idx].Entries = append(cats[idx].Entries, entry)
		entries = len(cats[idx].Entries)
		return cats, nil
	})
	if err != nil {
		return "", err
	}
	details := fmt.Sprintf("Added navigation entry %q under %s (%d entries)", title, category, entries)
	if created {
		details += "; category created"
	}
	return details, nil
}
