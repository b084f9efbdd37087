// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package passkey

import (
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Audit event topics.
const (
	// TopicCredentialRegistered is published after a successful
	// registration finish.
	TopicCredentialRegistered = "passkey.credential.registered"

	// TopicLoginSucceeded is published after a successful authentication
	// finish.
	TopicLoginSucceeded = "passkey.login.succeeded"

	// TopicCloneSuspected is published when an authenticator reports a
	// non-advancing signature counter. Subscribers should alert on this
	// distinctly from ordinary verification failures.
	TopicCloneSuspected = "passkey.clone.suspected"
)

// CredentialRegisteredEvent reports a newly registered credential.
type CredentialRegisteredEvent struct {
	UserID       string    `json:"user_id"`
	Username     string    `json:"username,omitempty"`
	CredentialID string    `json:"credential_id"`
	At           time.Time `json:"at"`
}

// LoginSucceededEvent reports a completed authentication.
type LoginSucceededEvent struct {
	UserID       string    `json:"user_id"`
	CredentialID string    `json:"credential_id"`
	SignCount    uint32    `json:"sign_count"`
	At           time.Time `json:"at"`
}

// CloneSuspectedEvent reports a signature counter regression, a possible
// cloned authenticator.
type CloneSuspectedEvent struct {
	UserID        string    `json:"user_id"`
	CredentialID  string    `json:"credential_id"`
	StoredCount   uint32    `json:"stored_count"`
	ReportedCount uint32    `json:"reported_count"`
	At            time.Time `json:"at"`
}

// publishEvent ships an audit event on a best-effort basis. Ceremony
// outcomes never depend on the event bus.
func (s *Service) publishEvent(topic string, event any) {
	if s.events == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed to encode audit event", "topic", topic, "error", err)
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := s.events.Publish(topic, msg); err != nil {
		s.logger.Error("failed to publish audit event", "topic", topic, "error", err)
	}
}
