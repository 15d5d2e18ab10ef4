// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package events defines the status events the pipeline pushes to
// clients. The transport that delivers them is external; this package
// only defines the event shape and a logging sink.
package events

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Action identifies what happened to a queue entry or task.
type Action string

const (
	ActionTaskAdded   Action = "task_added"
	ActionTaskEnded   Action = "task_ended"
	ActionQueueAdded  Action = "queue_added"
	ActionQueueStatus Action = "queue_status"
	ActionQueueEnded  Action = "queue_ended"
)

// Event is one status push. Key correlates events that concern the
// same target across their lifecycle.
type Event struct {
	Action   Action `json:"action"`
	Key      string `json:"key"`
	VolumeID int64  `json:"volume_id"`
	IssueID  *int64 `json:"issue_id,omitempty"`
	Payload  any    `json:"payload,omitempty"`
}

// Key builds the correlation key for an action on a target:
// action__volumeID, with the issue id appended when the target is a
// single issue.
func Key(action Action, volumeID int64, issueID *int64) string {
	if issueID != nil {
		return fmt.Sprintf("%s__%d__%d", action, volumeID, *issueID)
	}
	return fmt.Sprintf("%s__%d", action, volumeID)
}

// Publisher receives every event the pipeline emits. Implementations
// must not block; slow sinks drop or buffer on their own.
type Publisher interface {
	Publish(event Event)
}

// LogPublisher writes events to the structured log. It is the default
// sink when no socket transport is attached.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{
		log: log.Logger.With().Str("module", "events").Logger(),
	}
}

func (p *LogPublisher) Publish(event Event) {
	evt := p.log.Debug().
		Str("action", string(event.Action)).
		Str("key", event.Key).
		Int64("volumeID", event.VolumeID)
	if event.IssueID != nil {
		evt = evt.Int64("issueID", *event.IssueID)
	}
	evt.Msg("Event published")
}

// MultiPublisher fans one event out to several sinks.
type MultiPublisher []Publisher

func (p MultiPublisher) Publish(event Event) {
	for _, sink := range p {
		sink.Publish(event)
	}
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}
