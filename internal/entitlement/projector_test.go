package entitlement

import (
	"testing"

	"github.com/angelmondragon/subsync/pkg/enums"
)

func TestProjectEntitlementMapping(t *testing.T) {
	entitled := map[enums.SubscriptionStatus]bool{
		enums.SubscriptionStatusActive:   true,
		enums.SubscriptionStatusTrialing: true,
	}

	for _, status := range enums.SubscriptionStatuses() {
		got := Project(status)
		if got.Subscribed != entitled[status] {
			t.Fatalf("%s: expected subscribed=%v got %v", status, entitled[status], got.Subscribed)
		}
		if got.DisplayStatus != status {
			t.Fatalf("%s: display status should pass through, got %s", status, got.DisplayStatus)
		}
	}
}

func TestProjectUnknownStatusFailsClosed(t *testing.T) {
	for _, raw := range []enums.SubscriptionStatus{"", "ACTIVE", "grace_period"} {
		got := Project(raw)
		if got.Subscribed {
			t.Fatalf("%q must not be entitled", raw)
		}
		if got.DisplayStatus != enums.SubscriptionStatusNone {
			t.Fatalf("%q should display as none, got %s", raw, got.DisplayStatus)
		}
	}
}
