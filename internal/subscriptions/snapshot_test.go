package subscriptions

import (
	"testing"
	"time"

	"github.com/angelmondragon/subsync/pkg/enums"
)

func TestSelectRelevantPrefersLiveSubscriptions(t *testing.T) {
	now := time.Now().UTC()
	snaps := []Snapshot{
		{SubscriptionID: "sub_canceled", Status: enums.SubscriptionStatusCanceled, Created: now},
		{SubscriptionID: "sub_pastdue", Status: enums.SubscriptionStatusPastDue, Created: now.Add(-time.Hour)},
		{SubscriptionID: "sub_active", Status: enums.SubscriptionStatusActive, Created: now.Add(-48 * time.Hour)},
	}

	got, ok := SelectRelevant(snaps)
	if !ok {
		t.Fatal("expected a selection")
	}
	if got.SubscriptionID != "sub_active" {
		t.Fatalf("expected active subscription to win, got %s", got.SubscriptionID)
	}
}

func TestSelectRelevantRecoverableBeatsTerminal(t *testing.T) {
	now := time.Now().UTC()
	snaps := []Snapshot{
		{SubscriptionID: "sub_expired", Status: enums.SubscriptionStatusIncompleteExpired, Created: now},
		{SubscriptionID: "sub_unpaid", Status: enums.SubscriptionStatusUnpaid, Created: now.Add(-time.Hour)},
	}

	got, _ := SelectRelevant(snaps)
	if got.SubscriptionID != "sub_unpaid" {
		t.Fatalf("expected unpaid to win over terminal, got %s", got.SubscriptionID)
	}
}

func TestSelectRelevantIsOrderIndependent(t *testing.T) {
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a := Snapshot{SubscriptionID: "sub_a", Status: enums.SubscriptionStatusActive, Created: created}
	b := Snapshot{SubscriptionID: "sub_b", Status: enums.SubscriptionStatusTrialing, Created: created}
	c := Snapshot{SubscriptionID: "sub_c", Status: enums.SubscriptionStatusActive, Created: created.Add(-time.Minute)}

	orders := [][]Snapshot{{a, b, c}, {c, b, a}, {b, a, c}, {c, a, b}}
	for i, order := range orders {
		got, _ := SelectRelevant(order)
		if got.SubscriptionID != "sub_b" {
			t.Fatalf("order %d: expected sub_b (newest, greatest id on tie), got %s", i, got.SubscriptionID)
		}
	}
}

func TestSelectRelevantEmpty(t *testing.T) {
	if _, ok := SelectRelevant(nil); ok {
		t.Fatal("expected no selection for empty input")
	}
}
