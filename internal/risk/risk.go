// Package risk maps action types to a risk tier.
package risk

import "github.com/haricheung/overseer/internal/types"

// Tier is the risk classification of an action type.
type Tier string

const (
	// Auto actions are dispatched straight to the execution engine.
	Auto Tier = "auto"
	// NeedsApproval actions must pass through the approval queue.
	NeedsApproval Tier = "needs_approval"
)

// highRisk lists action types with a broad, irreversible or many-user blast radius.
var highRisk = map[types.ActionType]bool{
	types.ActionMassGrantPoints:      true,
	types.ActionCreateFlashCampaign:  true,
	types.ActionUpdateSiteNavigation: true,
}

// lowRisk lists action types known to be safe to run unattended.
var lowRisk = map[types.ActionType]bool{
	types.ActionPublishAnnouncement: true,
}

// Classify returns the risk tier of an action type.
//
// Expectations:
//   - Every high-risk type returns NeedsApproval
//   - publish_announcement returns Auto
//   - Any type outside the known table returns NeedsApproval
func Classify(t types.ActionType) Tier {
	if highRisk[t] {
		return NeedsApproval
	}
	if lowRisk[t] {
		return Auto
	}
	return NeedsApproval
}

// HighRisk returns the high-risk action types.
func HighRisk() []types.ActionType {
	return []types.ActionType{
		types.ActionMassGrantPoints,
		types.ActionCreateFlashCampaign,
		types.ActionUpdateSiteNavigation,
	}
}
