package webchat

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	EventTurnAppended   = "turn.appended"
	EventSessionDeleted = "session.deleted"
)

// topicForSession computes the pub/sub topic for one session's events.
func topicForSession(sessionID string) string { return "chat:" + sessionID }

// EventEnvelope is the frame forwarded to attached websocket clients.
type EventEnvelope struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	TurnNumber int    `json:"turn_number,omitempty"`
	Answer     string `json:"answer,omitempty"`
	Truncated  bool   `json:"truncated,omitempty"`
	ServerTime int64  `json:"server_time"`
}

func publishEvent(pub message.Publisher, env EventEnvelope) error {
	if pub == nil {
		return nil
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "marshal event envelope")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := pub.Publish(topicForSession(env.SessionID), msg); err != nil {
		log.Warn().Err(err).Str("component", "webchat").Str("session_id", env.SessionID).Str("type", env.Type).Msg("event publish failed")
		return err
	}
	return nil
}
