package controller

import (
	"testing"
	"time"

	"zapflow/models"
)

func TestStatusRankOrdering(t *testing.T) {
	order := []string{
		models.MessageStatusSent,
		models.MessageStatusDelivered,
		models.MessageStatusRead,
		models.MessageStatusFailed,
	}
	for i := 1; i < len(order); i++ {
		if statusRank(order[i]) <= statusRank(order[i-1]) {
			t.Fatalf("statusRank(%q)=%d not above statusRank(%q)=%d",
				order[i], statusRank(order[i]), order[i-1], statusRank(order[i-1]))
		}
	}
	if statusRank("unknown") != 0 {
		t.Fatalf("unknown status rank = %d, want 0", statusRank("unknown"))
	}
}

func TestShouldApplyStatus(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		current  string
		want     bool
	}{
		{name: "sent to delivered", incoming: models.MessageStatusDelivered, current: models.MessageStatusSent, want: true},
		{name: "delivered to read", incoming: models.MessageStatusRead, current: models.MessageStatusDelivered, want: true},
		{name: "late delivered never regresses read", incoming: models.MessageStatusDelivered, current: models.MessageStatusRead, want: false},
		{name: "read never regresses to sent", incoming: models.MessageStatusSent, current: models.MessageStatusRead, want: false},
		{name: "replayed delivered re-applies", incoming: models.MessageStatusDelivered, current: models.MessageStatusDelivered, want: true},
		{name: "failed applies over read", incoming: models.MessageStatusFailed, current: models.MessageStatusRead, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldApplyStatus(tt.incoming, tt.current); got != tt.want {
				t.Fatalf("shouldApplyStatus(%q, %q) = %v, want %v", tt.incoming, tt.current, got, tt.want)
			}
		})
	}
}

func TestStatusPatchKeepsFirstTimestamps(t *testing.T) {
	firstSeen := time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC)
	replayAt := firstSeen.Add(5 * time.Minute)

	// Fresh delivery receipt stamps delivered_at.
	msg := &models.Message{Status: models.MessageStatusSent}
	patch := statusPatch(msg, models.MessageStatusDelivered, firstSeen)
	if patch["status"] != models.MessageStatusDelivered {
		t.Fatalf("status = %v", patch["status"])
	}
	if patch["delivered_at"] != firstSeen {
		t.Fatalf("delivered_at = %v, want %v", patch["delivered_at"], firstSeen)
	}

	// Replayed receipt re-applies the status but never moves the timestamp.
	msg = &models.Message{Status: models.MessageStatusDelivered, DeliveredAt: &firstSeen}
	patch = statusPatch(msg, models.MessageStatusDelivered, replayAt)
	if _, ok := patch["delivered_at"]; ok {
		t.Fatalf("replay rewrote delivered_at: %v", patch["delivered_at"])
	}
	if patch["status"] != models.MessageStatusDelivered {
		t.Fatalf("status = %v", patch["status"])
	}

	// Same guard for read receipts.
	msg = &models.Message{Status: models.MessageStatusRead, ReadAt: &firstSeen}
	patch = statusPatch(msg, models.MessageStatusRead, replayAt)
	if _, ok := patch["read_at"]; ok {
		t.Fatalf("replay rewrote read_at: %v", patch["read_at"])
	}
}

func TestContactSeedNameOnlyFromInbound(t *testing.T) {
	inbound := contactSeed(models.DirectionInbound, "Ana")
	if inbound.Name != "Ana" {
		t.Fatalf("inbound seed name = %q, want Ana", inbound.Name)
	}
	if !inbound.OptedIn {
		t.Fatal("inbound seed must default to opted in")
	}

	// On outbound messages the push name is the account's own display
	// name, not the counterpart's.
	outbound := contactSeed(models.DirectionOutbound, "My Business")
	if outbound.Name != "" {
		t.Fatalf("outbound seed name = %q, want empty", outbound.Name)
	}
	if !outbound.OptedIn {
		t.Fatal("outbound seed must default to opted in")
	}
}
