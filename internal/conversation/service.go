// Package conversation owns the chat surface's state: it wires channel
// events into the session store and drives the REST collaborators for video
// generation and chat completion. The interactive command talks to this
// service only, never to the transport directly.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/catchat-dev/catchat/internal/channel"
	"github.com/catchat-dev/catchat/internal/chatapi"
	"github.com/catchat-dev/catchat/internal/identity"
	"github.com/catchat-dev/catchat/internal/logging"
	"github.com/catchat-dev/catchat/internal/store"
	"github.com/catchat-dev/catchat/internal/videoapi"
)

// Service coordinates the channel, the session store and the REST clients.
// Construct one per process; all methods are safe for concurrent use.
type Service struct {
	store  *store.Store
	ident  *identity.Provider
	chn    *channel.Channel
	video  *videoapi.Client
	chat   *chatapi.Client
	logger *slog.Logger

	mu       sync.Mutex
	onUpdate func()
}

// New builds the service and the channel it listens on. The channel's
// callbacks are bound here, so every transport event lands in the store.
func New(st *store.Store, ident *identity.Provider, chCfg channel.Config, video *videoapi.Client, chat *chatapi.Client) *Service {
	s := &Service{
		store:  st,
		ident:  ident,
		video:  video,
		chat:   chat,
		logger: logging.Store().With("component", "conversation"),
	}
	s.chn = channel.New(chCfg, ident, channel.Callbacks{
		OnProgress: s.handleProgress,
		OnUserEcho: s.handleEcho,
		OnNotice:   s.handleNotice,
		OnRawText:  s.handleRaw,
	})
	return s
}

// SetOnUpdate registers a hook fired after any asynchronous store mutation,
// so the interactive surface can re-render.
func (s *Service) SetOnUpdate(fn func()) {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
}

func (s *Service) notify() {
	s.mu.Lock()
	fn := s.onUpdate
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Connect opens the progress channel.
func (s *Service) Connect(ctx context.Context) error {
	return s.chn.Connect(ctx)
}

// Disconnect tears the channel down without scheduling reconnects.
func (s *Service) Disconnect() {
	s.chn.Disconnect()
}

// ChannelState reports the transport lifecycle state.
func (s *Service) ChannelState() channel.State {
	return s.chn.State()
}

// Store exposes the session store for session management commands.
func (s *Service) Store() *store.Store {
	return s.store
}

// Send pushes a user message over the channel. The message appears in the
// store via the echo callback once it was written to the wire; when the
// channel is down the send fails and nothing is recorded.
func (s *Service) Send(text string) error {
	return s.chn.Send(text)
}

// Ask runs a chat-completion round trip: the user message and the assistant
// reply are both appended to the active session.
func (s *Service) Ask(ctx context.Context, text string) (string, error) {
	history := s.history()
	s.store.SendUser(text)
	history = append(history, chatapi.Message{Role: store.RoleUser, Content: text})

	reply, err := s.chat.Complete(ctx, history)
	if err != nil {
		return "", fmt.Errorf("conversation: ask: %w", err)
	}
	s.store.AppendAssistant(reply)
	return reply, nil
}

// GenerateVideo submits a generation job and appends the placeholder message
// that will receive progress merges. Returns the task id.
func (s *Service) GenerateVideo(ctx context.Context, prompt string) (int64, error) {
	code, err := s.ident.Current()
	if err != nil {
		return 0, fmt.Errorf("conversation: generate video: %w", err)
	}
	taskID, err := s.video.Generate(ctx, videoapi.GenerateInput{Prompt: prompt, Code: code})
	if err != nil {
		return 0, fmt.Errorf("conversation: generate video: %w", err)
	}
	s.store.SendUser(prompt)
	s.store.AppendVideoPlaceholder(taskID, "Generating video...")
	s.logger.Info("video task created", "task", taskID)
	return taskID, nil
}

// CancelVideo asks the server to stop a task and records the outcome.
func (s *Service) CancelVideo(ctx context.Context, taskID int64) error {
	ok, err := s.video.Cancel(ctx, taskID)
	if err != nil {
		return fmt.Errorf("conversation: cancel video: %w", err)
	}
	if !ok {
		s.store.AppendAssistant(fmt.Sprintf("Task %d could not be cancelled (already finished or unknown).", taskID))
		return nil
	}
	s.store.AppendAssistant(fmt.Sprintf("Task %d cancelled.", taskID))
	return nil
}

// PollProgress fetches a task's state over REST and merges it exactly like a
// pushed event. Fallback for when the channel is down.
func (s *Service) PollProgress(ctx context.Context, taskID int64) error {
	p, err := s.video.Progress(ctx, taskID)
	if err != nil {
		return fmt.Errorf("conversation: poll progress: %w", err)
	}
	s.applyProgress(p.TaskID, store.VideoUpdate{
		Progress:           p.Progress,
		Stage:              p.Stage,
		StageDesc:          p.StageDesc,
		EstimatedRemaining: p.EstimatedRemaining,
		VideoURL:           p.VideoURL,
	})
	return nil
}

func (s *Service) handleProgress(ev channel.ProgressEvent) {
	s.applyProgress(ev.TaskID, store.VideoUpdate{
		Progress:           ev.Progress,
		Stage:              ev.Stage,
		StageDesc:          ev.StageDesc,
		EstimatedRemaining: ev.EstimatedRemaining,
		VideoURL:           ev.VideoURL,
	})
}

// applyProgress routes one progress update into the owning message. Updates
// for unknown tasks are dropped; they are diagnostic only.
func (s *Service) applyProgress(taskID int64, up store.VideoUpdate) {
	id, ok := s.store.ResolveTask(taskID)
	if !ok {
		s.logger.Warn("progress for unknown task dropped", "task", taskID)
		return
	}
	if err := s.store.UpdateMessage(id, up); err != nil {
		s.logger.Warn("progress merge failed", "task", taskID, "message", id, "error", err)
		return
	}
	s.notify()
}

func (s *Service) handleEcho(content string, ts int64) {
	s.store.Append(store.Message{
		Timestamp: ts,
		Role:      store.RoleUser,
		Kind:      store.KindText,
		Content:   content,
	})
	s.notify()
}

func (s *Service) handleNotice(text string) {
	s.store.AppendAssistant(text)
	s.notify()
}

// handleRaw surfaces undecodable server payloads verbatim, so plain-text
// frames still reach the conversation.
func (s *Service) handleRaw(text string) {
	s.store.AppendAssistant(text)
	s.notify()
}

// history converts the active session's text messages into chat turns.
func (s *Service) history() []chatapi.Message {
	msgs := s.store.ActiveMessages()
	out := make([]chatapi.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Kind != store.KindText {
			continue
		}
		out = append(out, chatapi.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
