package agent

import (
	"time"

	"labrag/internal/models"

	"github.com/google/uuid"
)

type Intent string

const (
	IntentUnset    Intent = ""
	IntentChat     Intent = "chat"
	IntentResearch Intent = "research"
)

// ParseIntent maps a classifier label onto an intent. Anything that is not
// exactly research or chat is reported as not ok.
func ParseIntent(s string) (Intent, bool) {
	switch Intent(s) {
	case IntentResearch:
		return IntentResearch, true
	case IntentChat:
		return IntentChat, true
	default:
		return IntentChat, false
	}
}

// History is the message accumulator of a session. Merge replaces messages
// whose ID is already present and appends the rest in order.
type History []models.Message

func (h History) Merge(msgs ...models.Message) History {
	if len(msgs) == 0 {
		return h
	}
	at := make(map[string]int, len(h))
	for i, m := range h {
		at[m.ID] = i
	}
	out := make(History, len(h), len(h)+len(msgs))
	copy(out, h)
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if i, ok := at[m.ID]; ok {
			out[i] = m
			continue
		}
		at[m.ID] = len(out)
		out = append(out, m)
	}
	return out
}

// Latest returns the content of the newest message, or "" for an empty history.
func (h History) Latest() string {
	if len(h) == 0 {
		return ""
	}
	return h[len(h)-1].Content
}

// Trace is the append-only reasoning log of a turn.
type Trace string

func (t Trace) Append(note string) Trace {
	return t + Trace(note)
}

func (t Trace) String() string {
	return string(t)
}

// State is everything persisted for one session.
type State struct {
	SessionID string         `json:"session_id"`
	Messages  History        `json:"messages"`
	Intent    Intent         `json:"intent,omitempty"`
	Docs      []models.Chunk `json:"docs,omitempty"`
	Sources   []string       `json:"sources,omitempty"`
	Trace     Trace          `json:"reasoning,omitempty"`
	Answer    *string        `json:"answer,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Update is a partial state change returned by a node. Messages merge into the
// history and Trace appends; the remaining set fields overwrite.
type Update struct {
	Messages []models.Message
	Intent   *Intent
	Docs     []models.Chunk
	Sources  []string
	Trace    string
	Answer   *string
}

func (s *State) Apply(u Update) {
	s.Messages = s.Messages.Merge(u.Messages...)
	s.Trace = s.Trace.Append(u.Trace)
	if u.Intent != nil {
		s.Intent = *u.Intent
	}
	if u.Docs != nil {
		s.Docs = u.Docs
	}
	if u.Sources != nil {
		s.Sources = u.Sources
	}
	if u.Answer != nil {
		s.Answer = u.Answer
	}
}

// beginTurn clears the fields that describe a single turn and records the
// user message.
func (s *State) beginTurn(msg models.Message) {
	s.Intent = IntentUnset
	s.Docs = nil
	s.Sources = nil
	s.Trace = ""
	s.Answer = nil
	s.Messages = s.Messages.Merge(msg)
}

func newMessage(role models.Role, content string, now time.Time) models.Message {
	return models.Message{ID: uuid.NewString(), Role: role, Content: content, CreatedAt: now}
}
