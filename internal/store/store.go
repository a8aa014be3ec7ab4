// Package store persists conversation sessions and merges video-generation
// progress into the messages that own the tasks. Sessions are kept newest
// first; the active session is mirrored into a live message list that the
// interactive surface renders from. Every mutation persists the whole list
// through the kv layer.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/catchat-dev/catchat/internal/kv"
	"github.com/catchat-dev/catchat/internal/logging"
)

var (
	// ErrSessionNotFound reports an unknown session id.
	ErrSessionNotFound = errors.New("store: session not found")
	// ErrMessageNotFound reports a merge target that exists in no session.
	// The caller drops the event; no state changes.
	ErrMessageNotFound = errors.New("store: message not found")
)

const welcomeText = "Hi! Describe the video you want and I'll get started."

const titleLimit = 20

// Store owns the session list. All methods are safe for concurrent use; a
// single mutex serializes mutations, matching the single-writer model of the
// conversation surface.
type Store struct {
	mu     sync.Mutex
	kv     kv.Store
	logger *slog.Logger

	sessions []Session
	current  string
	live     []Message

	lastStamp int64
}

// New returns a store over the given kv backend. Call Load before use.
func New(backend kv.Store) *Store {
	return &Store{
		kv:     backend,
		logger: logging.Store(),
	}
}

// Load reads the persisted session list and re-activates the persisted
// current session. When the persisted id is missing or stale the first
// session is promoted, and an empty store starts with a fresh session. The
// initial activation never flushes the (empty) live list.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Get(kv.KeySessionList, &s.sessions); err != nil && !errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("store: load sessions: %w", err)
	}
	var current string
	if err := s.kv.Get(kv.KeyCurrentSession, &current); err != nil && !errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("store: load current session: %w", err)
	}

	// Seed the stamp watermark from the persisted messages so new appends
	// cannot collide with ids loaded from disk.
	for _, sess := range s.sessions {
		for _, m := range sess.Messages {
			if m.Timestamp > s.lastStamp {
				s.lastStamp = m.Timestamp
			}
		}
	}

	switch {
	case s.indexLocked(current) >= 0:
		s.activateLocked(current)
	case len(s.sessions) > 0:
		s.activateLocked(s.sessions[0].ID)
	default:
		s.createLocked()
	}
	s.logger.Info("loaded", "sessions", len(s.sessions), "current", s.current)
	return s.persistLocked()
}

// CurrentID returns the active session id.
func (s *Store) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Sessions returns a copy of the session list, newest first.
func (s *Store) Sessions() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, len(s.sessions))
	for i, sess := range s.sessions {
		out[i] = sess
		out[i].Messages = cloneMessages(sess.Messages)
	}
	return out
}

// ActiveMessages returns a copy of the live message list.
func (s *Store) ActiveMessages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMessages(s.live)
}

// Append adds a message to the active session. A zero Timestamp is assigned
// a fresh unique one. The first user message in a session still carrying the
// default title becomes the title, truncated past 20 characters.
func (s *Store) Append(msg Message) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.appendLocked(msg)
	if err := s.persistLocked(); err != nil {
		s.logger.Warn("persist failed", "error", err)
	}
	return ts
}

// SendUser appends a user-authored text message and returns its id.
func (s *Store) SendUser(content string) int64 {
	return s.Append(Message{Role: RoleUser, Kind: KindText, Content: content})
}

// AppendAssistant appends an assistant text message and returns its id.
// Connection notices use this too; they read as part of the conversation.
func (s *Store) AppendAssistant(content string) int64 {
	return s.Append(Message{Role: RoleAssistant, Kind: KindText, Content: content})
}

// AppendVideoPlaceholder appends the assistant message that will receive
// progress merges for the given task and returns its id.
func (s *Store) AppendVideoPlaceholder(taskID int64, content string) int64 {
	return s.Append(Message{
		Role:    RoleAssistant,
		Kind:    KindVideo,
		Content: content,
		TaskID:  taskID,
		Video:   &VideoState{},
	})
}

// ResolveTask maps a task id to the id of the message that owns it. The
// active thread is searched first, then every session in list order.
func (s *Store) ResolveTask(taskID int64) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.live) - 1; i >= 0; i-- {
		if s.live[i].TaskID == taskID && s.live[i].Kind == KindVideo {
			return s.live[i].Timestamp, true
		}
	}
	for _, sess := range s.sessions {
		for i := len(sess.Messages) - 1; i >= 0; i-- {
			if sess.Messages[i].TaskID == taskID && sess.Messages[i].Kind == KindVideo {
				return sess.Messages[i].Timestamp, true
			}
		}
	}
	return 0, false
}

// UpdateMessage merges a video update into the message with the given id.
// The active thread is searched first, then every session. An id found
// nowhere returns ErrMessageNotFound and leaves all state untouched.
func (s *Store) UpdateMessage(messageID int64, up VideoUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx := s.indexLocked(s.current); idx >= 0 {
		if pos := findMessage(s.sessions[idx].Messages, messageID); pos >= 0 {
			merged := mergeVideo(s.sessions[idx].Messages[pos], up)
			s.sessions[idx].Messages[pos] = merged
			if pos < len(s.live) && s.live[pos].Timestamp == messageID {
				s.live[pos] = merged.clone()
			} else if lpos := findMessage(s.live, messageID); lpos >= 0 {
				s.live[lpos] = merged.clone()
			}
			return s.persistLocked()
		}
	}
	for i := range s.sessions {
		if s.sessions[i].ID == s.current {
			continue
		}
		if pos := findMessage(s.sessions[i].Messages, messageID); pos >= 0 {
			s.sessions[i].Messages[pos] = mergeVideo(s.sessions[i].Messages[pos], up)
			return s.persistLocked()
		}
	}
	return fmt.Errorf("%w: %d", ErrMessageNotFound, messageID)
}

// SwitchSession flushes the live list into the outgoing session and loads
// the target's messages verbatim.
func (s *Store) SwitchSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(id) < 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.flushLocked()
	s.activateLocked(id)
	return s.persistLocked()
}

// CreateSession starts a fresh session at the front of the list, makes it
// active, and seeds it with a welcome message. Returns the new id.
func (s *Store) CreateSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
	id := s.createLocked()
	if err := s.persistLocked(); err != nil {
		s.logger.Warn("persist failed", "error", err)
	}
	return id
}

// DeleteSession removes a session. Deleting the active one promotes the
// first remaining session, or creates a fresh one when none remain.
func (s *Store) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.sessions = append(s.sessions[:idx], s.sessions[idx+1:]...)
	if s.current == id {
		if len(s.sessions) > 0 {
			s.activateLocked(s.sessions[0].ID)
		} else {
			s.createLocked()
		}
	}
	return s.persistLocked()
}

func (s *Store) appendLocked(msg Message) int64 {
	// Explicit stamps (the wire echo path) go through collision handling
	// too; Timestamp doubles as the message id and must stay unique.
	if msg.Timestamp == 0 || msg.Timestamp <= s.lastStamp {
		msg.Timestamp = s.nextStampLocked()
	} else {
		s.lastStamp = msg.Timestamp
	}
	idx := s.indexLocked(s.current)
	if idx < 0 {
		s.createLocked()
		idx = s.indexLocked(s.current)
	}
	s.live = append(s.live, msg.clone())
	s.sessions[idx].Messages = append(s.sessions[idx].Messages, msg)
	if msg.Role == RoleUser && s.sessions[idx].Title == DefaultTitle {
		s.sessions[idx].Title = titleFor(msg.Content)
	}
	return msg.Timestamp
}

func (s *Store) activateLocked(id string) {
	idx := s.indexLocked(id)
	s.current = id
	s.live = cloneMessages(s.sessions[idx].Messages)
}

func (s *Store) flushLocked() {
	if idx := s.indexLocked(s.current); idx >= 0 {
		s.sessions[idx].Messages = cloneMessages(s.live)
	}
}

func (s *Store) createLocked() string {
	now := s.nextStampLocked()
	sess := Session{
		ID:        fmt.Sprintf("session_%d", now),
		Title:     DefaultTitle,
		CreatedAt: now,
		Messages: []Message{{
			Timestamp: s.nextStampLocked(),
			Role:      RoleAssistant,
			Kind:      KindText,
			Content:   welcomeText,
		}},
	}
	s.sessions = append([]Session{sess}, s.sessions...)
	s.activateLocked(sess.ID)
	return sess.ID
}

func (s *Store) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// nextStampLocked returns a unix-millisecond stamp, bumped past the previous
// one so ids stay unique even when messages arrive within the same tick.
func (s *Store) nextStampLocked() int64 {
	now := time.Now().UnixMilli()
	if now <= s.lastStamp {
		now = s.lastStamp + 1
	}
	s.lastStamp = now
	return now
}

func (s *Store) persistLocked() error {
	s.flushLocked()
	if err := s.kv.Set(kv.KeySessionList, s.sessions); err != nil {
		return fmt.Errorf("store: persist sessions: %w", err)
	}
	if err := s.kv.Set(kv.KeyCurrentSession, s.current); err != nil {
		return fmt.Errorf("store: persist current session: %w", err)
	}
	return nil
}

func findMessage(msgs []Message, id int64) int {
	for i := range msgs {
		if msgs[i].Timestamp == id {
			return i
		}
	}
	return -1
}

// mergeVideo builds the replacement message for a progress merge. Identity
// fields survive; the stage description is appended to the history, one
// entry per update even when the description is empty; the remaining video
// fields are replaced wholesale.
func mergeVideo(prev Message, up VideoUpdate) Message {
	next := prev
	next.Role = RoleAssistant
	next.Kind = KindVideo
	var history []string
	if prev.Video != nil {
		history = append(history, prev.Video.StageHistory...)
	}
	history = append(history, up.StageDesc)
	next.Video = &VideoState{
		Progress:           up.Progress,
		Stage:              up.Stage,
		StageHistory:       history,
		EstimatedRemaining: up.EstimatedRemaining,
		VideoURL:           up.VideoURL,
	}
	return next
}

func titleFor(content string) string {
	runes := []rune(content)
	if len(runes) <= titleLimit {
		return content
	}
	return string(runes[:titleLimit]) + "..."
}
