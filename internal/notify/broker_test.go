package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveEvent(t *testing.T, client *Client) Event {
	t.Helper()
	select {
	case event := <-client.Events:
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishFrameStored_ReachesSubscriber(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()

	client := b.Subscribe("bob")
	defer b.Unsubscribe(client)

	err := b.PublishFrameStored(context.Background(), "bob", FrameStored{
		SessionID: "sess-1",
		SenderID:  "alice",
		SenderSeq: 3,
	})
	require.NoError(t, err)

	event := receiveEvent(t, client)
	assert.Equal(t, "frame_stored", event.Type)

	var stored FrameStored
	require.NoError(t, json.Unmarshal(event.Data, &stored))
	assert.Equal(t, "sess-1", stored.SessionID)
	assert.Equal(t, "alice", stored.SenderID)
	assert.Equal(t, int64(3), stored.SenderSeq)
}

func TestPublish_OnlyMatchingRecipient(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()

	bob := b.Subscribe("bob")
	carol := b.Subscribe("carol")
	defer b.Unsubscribe(bob)
	defer b.Unsubscribe(carol)

	require.NoError(t, b.PublishFrameStored(context.Background(), "bob", FrameStored{SessionID: "s"}))

	receiveEvent(t, bob)
	select {
	case event := <-carol.Events:
		t.Fatalf("carol received %q addressed to bob", event.Type)
	default:
	}
}

func TestPublish_FanOutToAllClientsOfRecipient(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()

	first := b.Subscribe("bob")
	second := b.Subscribe("bob")
	defer b.Unsubscribe(first)
	defer b.Unsubscribe(second)

	require.NoError(t, b.PublishFrameStored(context.Background(), "bob", FrameStored{SessionID: "s"}))

	receiveEvent(t, first)
	receiveEvent(t, second)
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()

	client := b.Subscribe("bob")
	b.Unsubscribe(client)

	select {
	case <-client.Done:
	default:
		t.Fatal("Done not closed on unsubscribe")
	}

	require.NoError(t, b.PublishFrameStored(context.Background(), "bob", FrameStored{SessionID: "s"}))
	select {
	case event := <-client.Events:
		t.Fatalf("unsubscribed client received %q", event.Type)
	default:
	}
}

func TestClose_ReleasesClients(t *testing.T) {
	b := NewBroker(nil)
	client := b.Subscribe("bob")

	b.Close()

	select {
	case <-client.Done:
	case <-time.After(time.Second):
		t.Fatal("Done not closed on broker close")
	}
}

func TestFrameChannel(t *testing.T) {
	assert.Equal(t, "a2a:frames:bob", FrameChannel("bob"))
}
