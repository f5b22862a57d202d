package types

import (
	"encoding/json"
	"time"
)

// Role identifies a pipeline stage on the bus.
type Role string

const (
	RoleUser      Role = "User"
	RoleScheduler Role = "Autopilot"
	RolePlanner   Role = "Planner"
	RoleExecutor  Role = "Executor"
	RoleApprover  Role = "Approver"
	RoleAuditor   Role = "Auditor"
	RoleCouncil   Role = "Council"
	RoleStream    Role = "Stream"
)

// MessageType identifies the payload type of a bus message
type MessageType string

const (
	MsgCycleBegin       MessageType = "CycleBegin"       // Autopilot → Planner
	MsgStreamFragment   MessageType = "StreamFragment"   // Stream → User: live partial text
	MsgStreamComplete   MessageType = "StreamComplete"   // Stream → Planner/Council
	MsgPlanReady        MessageType = "PlanReady"        // Planner → Executor
	MsgApprovalQueued   MessageType = "ApprovalQueued"   // Planner → Approver
	MsgApprovalResolved MessageType = "ApprovalResolved" // Approver → User
	MsgAuditAppended    MessageType = "AuditAppended"    // Auditor → User
	MsgCycleComplete    MessageType = "CycleComplete"    // Autopilot → User
	MsgStageChanged     MessageType = "StageChanged"     // Council → User
)

// Message is the envelope for all bus traffic.
type Message struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	From      Role        `json:"from"`
	To        Role        `json:"to"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
}

// ActionType names one of the closed set of platform actions.
type ActionType string

const (
	ActionMassGrantPoints      ActionType = "mass_grant_points"
	ActionCreateFlashCampaign  ActionType = "create_flash_campaign"
	ActionPublishAnnouncement  ActionType = "publish_announcement"
	ActionUpdateSiteNavigation ActionType = "update_site_navigation"

	// ActionUnknown tags audit entries for commands with no handler.
	ActionUnknown ActionType = "unknown"
)

var actionLabels = map[ActionType]string{
	ActionMassGrantPoints:      "Mass point grant",
	ActionCreateFlashCampaign:  "Flash campaign",
	ActionPublishAnnouncement:  "Announcement",
	ActionUpdateSiteNavigation: "Navigation update",
}

// Label returns a human-friendly name for the action type.
// Types outside the closed set fall back to the raw identifier.
func (a ActionType) Label() string {
	if l, ok := actionLabels[a]; ok {
		return l
	}
	return string(a)
}

// Command is one proposed action produced by the plan parser.
// It is never persisted directly; only its execution outcome is.
type Command struct {
	Type        ActionType     `json:"type"`
	Label       string         `json:"label,omitempty"`
	Description string         `json:"description,omitempty"`
	Params      map[string]any `json:"payload"`
}

// Decode unmarshals Params into one of the typed payload variants.
func (c Command) Decode(dst any) error {
	raw, err := json.Marshal(c.Params)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// MassGrantPoints is the payload of mass_grant_points.
type MassGrantPoints struct {
	Amount        int    `json:"amount"`
	Reason        string `json:"reason"`
	TargetSegment string `json:"targetSegment"`
}

// CreateFlashCampaign is the payload of create_flash_campaign.
type CreateFlashCampaign struct {
	Name       string `json:"name"`
	GoalAmount int    `json:"goalAmount"`
}

// PublishAnnouncement is the payload of publish_announcement.
type PublishAnnouncement struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// UpdateSiteNavigation is the payload of update_site_navigation.
type UpdateSiteNavigation struct {
	Category    string `json:"category"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ViewName    string `json:"viewName"`
	IconName    string `json:"iconName"`
}

// PendingApproval holds a high-risk Command until a human resolves it.
type PendingApproval struct {
	ID        string    `json:"id"`
	Command   Command   `json:"command"`
	Source    Source    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Outcome classifies what happened to an execution attempt.
type Outcome string

const (
	OutcomeExecuted Outcome = "executed"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
	OutcomeUnknown  Outcome = "unknown"
)

// Source records which actor triggered an execution attempt.
type Source string

const (
	SourceAutopilot Source = "autopilot"
	SourceManual    Source = "manual"
	SourceCouncil   Source = "council"
)

// AuditEntry is one immutable record in the audit log.
type AuditEntry struct {
	ID         string     `json:"id"`
	ActionType ActionType `json:"action_type"`
	Details    string     `json:"details"`
	Outcome    Outcome    `json:"outcome"`
	Source     Source     `json:"source,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Proposal is one advisor's brainstorm output for a council session.
type Proposal struct {
	AdvisorID    string   `json:"advisor_id"`
	RawOutput    string   `json:"raw_output"`
	Solutions    []string `json:"solutions"`
	IsProcessing bool     `json:"is_processing"`
	Error        bool     `json:"error"`
}

// PinnedSolution is a user-selected proposal solution carried into critique.
type PinnedSolution struct {
	AdvisorID string `json:"advisor_id"`
	Text      string `json:"text"`
}

// LogKind distinguishes critique lines from the closing consensus.
type LogKind string

const (
	KindCritique  LogKind = "critique"
	KindConsensus LogKind = "consensus"
)

// MeetingLogEntry is one parsed "Speaker: text" line of the critique transcript.
type MeetingLogEntry struct {
	SpeakerID string  `json:"speaker_id"`
	Text      string  `json:"text"`
	Kind      LogKind `json:"kind"`
}

// SmartAction is an executable action extracted from a decree.
type SmartAction struct {
	ID          string         `json:"id"`
	Type        ActionType     `json:"type"`
	Label       string         `json:"label"`
	Description string         `json:"description"`
	Payload     map[string]any `json:"payload"`
}

// Command converts the action into a dispatchable Command.
func (a SmartAction) Command() Command {
	return Command{Type: a.Type, Label: a.Label, Description: a.Description, Params: a.Payload}
}

// Decree is the final synthesis of a council session.
type Decree struct {
	Text    string        `json:"text"`
	Actions []SmartAction `json:"actions"`
}

// StreamUpdate is the payload of MsgStreamFragment and MsgStreamComplete.
type StreamUpdate struct {
	RequestID string `json:"request_id"`
	Text      string `json:"text"`
	Fragment  string `json:"fragment,omitempty"`
}

// CycleReport summarises one generate→parse→classify→dispatch cycle.
type CycleReport struct {
	CycleID  string            `json:"cycle_id"`
	Prose    string            `json:"prose"`
	Executed []AuditEntry      `json:"executed"`
	Queued   []PendingApproval `json:"queued"`
	Degraded bool              `json:"degraded"`
	Error    string            `json:"error,omitempty"`
}

// StageChange is the payload of MsgStageChanged.
type StageChange struct {
	SessionID string `json:"session_id"`
	From      string `json:"from"`
	To        string `json:"to"`
}
