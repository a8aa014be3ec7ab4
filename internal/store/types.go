package store

// Message roles and kinds.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	KindText  = "text"
	KindVideo = "video"
)

// DefaultTitle is the title a session carries until its first user message.
const DefaultTitle = "New chat"

// Message is one conversation entry. Timestamp doubles as the message id and
// is unique within its session.
type Message struct {
	Timestamp int64       `json:"timestamp"`
	Role      string      `json:"role"`
	Content   string      `json:"content"`
	TaskID    int64       `json:"taskId,omitempty"`
	Kind      string      `json:"kind,omitempty"`
	Video     *VideoState `json:"video,omitempty"`
}

// VideoState tracks a video-generation task attached to a message.
// StageHistory is append-only; it is never truncated or reordered.
type VideoState struct {
	Progress           int      `json:"progress"`
	Stage              int      `json:"stage"`
	StageHistory       []string `json:"stageHistory,omitempty"`
	EstimatedRemaining float64  `json:"estimatedRemainingTime,omitempty"`
	VideoURL           string   `json:"videoUrl,omitempty"`
}

// Session is one conversation thread.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt int64     `json:"createdAt"`
	Messages  []Message `json:"messages"`
}

// VideoUpdate carries the fields of a progress event that are merged into a
// message's video state. Progress, Stage, EstimatedRemaining and VideoURL
// replace the previous values wholesale; StageDesc is appended to the
// history on every update, empty or not.
type VideoUpdate struct {
	Progress           int
	Stage              int
	StageDesc          string
	EstimatedRemaining float64
	VideoURL           string
}

func (m Message) clone() Message {
	out := m
	if m.Video != nil {
		v := *m.Video
		v.StageHistory = append([]string(nil), m.Video.StageHistory...)
		out.Video = &v
	}
	return out
}

func cloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.clone()
	}
	return out
}
