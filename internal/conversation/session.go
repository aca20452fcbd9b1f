package conversation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/deskline/support-bot/internal/domain"
)

// Session is the active flow of one party.
type Session struct {
	Party     domain.PartyID
	StartedAt time.Time
	Flow      Flow
}

type envelope struct {
	Party     domain.PartyID  `json:"party"`
	Kind      FlowKind        `json:"kind"`
	StartedAt time.Time       `json:"started_at"`
	Flow      json.RawMessage `json:"flow"`
}

// MarshalJSON writes the session with its flow tag.
func (s Session) MarshalJSON() ([]byte, error) {
	if s.Flow == nil {
		return nil, fmt.Errorf("session %d has no flow", int64(s.Party))
	}
	flow, err := json.Marshal(s.Flow)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Party: s.Party, Kind: s.Flow.Kind(), StartedAt: s.StartedAt, Flow: flow})
}

// UnmarshalJSON restores the flow variant named by the tag.
func (s *Session) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	flow, ok := newFlow(env.Kind)
	if !ok {
		return fmt.Errorf("unknown flow kind %q", env.Kind)
	}
	if err := json.Unmarshal(env.Flow, flow); err != nil {
		return fmt.Errorf("decode %s flow: %w", env.Kind, err)
	}
	s.Party = env.Party
	s.StartedAt = env.StartedAt
	s.Flow = flow
	return nil
}
