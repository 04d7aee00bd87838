// Package agent runs conversation turns: classify the message, then either
// chat or retrieve evidence and synthesize a cited answer.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"labrag/internal/config"
	"labrag/internal/models"
	"labrag/internal/providers"
	"labrag/internal/util"
	"labrag/internal/vector"
)

var ErrEmptyMessage = errors.New("agent: empty message")

type ServiceOptions struct {
	LLM           providers.LLMProvider
	Index         vector.Index
	Prompts       *config.Prompts
	Models        Models
	TopK          int
	HistoryWindow int
	Checkpointer  Checkpointer
	Log           *slog.Logger
}

type TurnResult struct {
	Reply string `json:"reply"`
	Path  []Node `json:"path"`
	State State  `json:"state"`
}

// Service runs one graph pass per user message. Turns of one session are
// serialized; different sessions run concurrently.
type Service struct {
	graph *Graph
	ckpt  Checkpointer
	now   func() time.Time
	log   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func NewService(opts ServiceOptions) (*Service, error) {
	if opts.LLM == nil || opts.Index == nil || opts.Prompts == nil {
		return nil, fmt.Errorf("%w: agent needs an llm, an index and prompts", util.ErrConfiguration)
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	if opts.TopK <= 0 {
		opts.TopK = 30
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 10
	}
	ckpt := opts.Checkpointer
	if ckpt == nil {
		ckpt = NewMemoryCheckpointer()
	}
	s := &Service{ckpt: ckpt, now: time.Now, log: log, locks: map[string]*sessionLock{}}
	nodes := &Nodes{
		llm:           opts.LLM,
		index:         opts.Index,
		prompts:       opts.Prompts,
		models:        opts.Models,
		topK:          opts.TopK,
		historyWindow: opts.HistoryWindow,
		now:           func() time.Time { return s.now() },
		log:           log,
	}
	g, err := NewGraph(nodes.handlers())
	if err != nil {
		return nil, err
	}
	s.graph = g
	return s, nil
}

// RunTurn adds message to the session history and runs the graph once. The
// session is saved only when the whole pass succeeds.
func (s *Service) RunTurn(ctx context.Context, sessionID, message string) (TurnResult, error) {
	if strings.TrimSpace(message) == "" {
		return TurnResult{}, ErrEmptyMessage
	}
	if sessionID == "" {
		return TurnResult{}, errors.New("agent: session id is required")
	}
	unlock := s.lock(sessionID)
	defer unlock()

	st, found, err := s.ckpt.Load(ctx, sessionID)
	if err != nil {
		return TurnResult{}, err
	}
	if !found {
		st = State{SessionID: sessionID}
	}
	st.beginTurn(newMessage(models.RoleUser, message, s.now()))

	log := s.log.With("session_id", sessionID)
	log.DebugContext(ctx, "running turn", "history", len(st.Messages))
	path, err := s.graph.Run(ctx, &st)
	if err != nil {
		log.ErrorContext(ctx, "turn failed", "path", path, "err", err)
		return TurnResult{Path: path, State: st}, err
	}
	st.UpdatedAt = s.now().UTC()
	if err := s.ckpt.Save(ctx, st); err != nil {
		return TurnResult{Path: path, State: st}, err
	}
	log.InfoContext(ctx, "turn complete", "intent", st.Intent, "path", path, "docs", len(st.Docs))
	return TurnResult{Reply: st.Messages.Latest(), Path: path, State: st}, nil
}

// History returns the saved messages of a session.
func (s *Service) History(ctx context.Context, sessionID string) ([]models.Message, error) {
	st, _, err := s.ckpt.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return st.Messages, nil
}

func (s *Service) lock(sessionID string) func() {
	s.mu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		s.locks[sessionID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, sessionID)
		}
		s.mu.Unlock()
	}
}
