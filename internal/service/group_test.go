package service

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/talosprotocol/a2a-relay-go/internal/model"
)

func membershipEvent(t *testing.T, eventType model.GroupEventType, targetID string) model.ChainEvent {
	t.Helper()

	payload, err := json.Marshal(map[string]any{"event_type": string(eventType)})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	ev := model.ChainEvent{
		EntityID:  "grp-1",
		ActorID:   "owner",
		EventJSON: payload,
	}
	if targetID != "" {
		ev.TargetID = &targetID
	}
	return ev
}

func TestReplayMembership_AddAndRemove(t *testing.T) {
	events := []model.ChainEvent{
		membershipEvent(t, model.EventGroupCreated, ""),
		membershipEvent(t, model.EventMemberAdded, "owner"),
		membershipEvent(t, model.EventMemberAdded, "alice"),
		membershipEvent(t, model.EventMemberAdded, "bob"),
		membershipEvent(t, model.EventMemberRemoved, "alice"),
	}

	members := replayMembership(events)
	assert.Equal(t, map[string]bool{"owner": true, "bob": true}, members)
}

func TestReplayMembership_ReAdd(t *testing.T) {
	events := []model.ChainEvent{
		membershipEvent(t, model.EventMemberAdded, "alice"),
		membershipEvent(t, model.EventMemberRemoved, "alice"),
		membershipEvent(t, model.EventMemberAdded, "alice"),
	}

	members := replayMembership(events)
	assert.Equal(t, map[string]bool{"alice": true}, members)
}

func TestReplayMembership_IgnoresNonMembershipEvents(t *testing.T) {
	events := []model.ChainEvent{
		membershipEvent(t, model.EventGroupCreated, ""),
		membershipEvent(t, model.EventGroupClosed, ""),
	}

	assert.Empty(t, replayMembership(events))
}

func TestReplayMembership_Empty(t *testing.T) {
	assert.Empty(t, replayMembership(nil))
}

func TestReplayMembership_OrderMatters(t *testing.T) {
	// A removal before the matching add must not leave the member in.
	events := []model.ChainEvent{
		membershipEvent(t, model.EventMemberRemoved, "alice"),
	}
	assert.Empty(t, replayMembership(events))
}
