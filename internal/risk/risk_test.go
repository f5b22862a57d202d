package risk

import (
	"testing"

	"github.com/haricheung/overseer/internal/types"
)

func TestClassify_HighRiskNeedsApproval(t *testing.T) {
	// Every high-risk type returns NeedsApproval
	for _, at := range HighRisk() {
		if got := Classify(at); got != NeedsApproval {
			t.Errorf("Classify(%s) = %s, want %s", at, got, NeedsApproval)
		}
	}
}

func TestClassify_AnnouncementIsAuto(t *testing.T) {
	// publish_announcement returns Auto
	if got := Classify(types.ActionPublishAnnouncement); got != Auto {
		t.Errorf("got %s, want %s", got, Auto)
	}
}

func TestClassify_UnknownDefaultsToApproval(t *testing.T) {
	// Any type outside the known table returns NeedsApproval
	for _, at := range []types.ActionType{"teleport_users", "", types.ActionUnknown} {
		if got := Classify(at); got != NeedsApproval {
			t.Errorf("Classify(%q) = %s, want %s", at, got, NeedsApproval)
		}
	}
}
