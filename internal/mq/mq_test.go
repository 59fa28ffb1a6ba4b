package mq

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage_RoundTripsJobEvent(t *testing.T) {
	sent := newMessage(MessageTypeJobFailed, JobEventPayload{
		JobID:         "job-1",
		TransactionID: "tx-1",
		Type:          "chat",
		Status:        "FAILED",
		Error:         "webhook returned 500",
	})
	body, err := json.Marshal(sent)
	require.NoError(t, err)

	msg, err := DecodeMessage(body)
	require.NoError(t, err)
	assert.Equal(t, sent.ID, msg.ID)
	assert.Equal(t, MessageTypeJobFailed, msg.Type)

	payload, err := ParsePayload[JobEventPayload](msg)
	require.NoError(t, err)
	assert.Equal(t, "job-1", payload.JobID)
	assert.Equal(t, "webhook returned 500", payload.Error)
}

func TestDecodeMessage_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "{"},
		{name: "missing id", body: `{"type":"job.completed"}`},
		{name: "missing type", body: `{"id":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage([]byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestTopology_EveryQueueIsBound(t *testing.T) {
	exchanges, queues, bindings := topology()

	declared := make(map[Exchange]bool)
	for _, ex := range exchanges {
		declared[ex.name] = true
	}

	bound := make(map[Queue]bool)
	for _, b := range bindings {
		assert.True(t, declared[b.exchange], "binding to undeclared exchange %s", b.exchange)
		bound[b.queue] = true
	}
	for _, q := range queues {
		assert.True(t, bound[q.name], "queue %s has no binding", q.name)
	}
}
