package channel

import "encoding/json"

// FrameKind tags the result of classifying an inbound frame.
type FrameKind int

const (
	// FrameRaw is the fallback for payloads that do not parse as a JSON
	// object. The raw text is retained for diagnostic visibility only.
	FrameRaw FrameKind = iota
	// FrameLiveness is an application-level keepalive probe. It is answered
	// with a liveness response and never surfaced as conversation content.
	FrameLiveness
	// FrameProgress is a task-progress event, duck-typed on the presence of
	// numeric `progress` and `taskId` fields.
	FrameProgress
	// FrameUnclassified is a structured message the client recognizes but
	// intentionally drops.
	FrameUnclassified
)

// ProgressEvent is a server-pushed update describing the state of an
// asynchronous video-generation task.
type ProgressEvent struct {
	TaskID             int64
	Progress           int
	Stage              int
	StageDesc          string
	EstimatedRemaining float64 // seconds
	VideoURL           string

	// Payload retains the full parsed object so fields this client does not
	// yet understand are not silently dropped.
	Payload map[string]any
}

// Frame is the tagged result of decoding one inbound payload.
type Frame struct {
	Kind     FrameKind
	Progress ProgressEvent  // valid when Kind == FrameProgress
	Text     string         // raw payload text when Kind == FrameRaw
	Payload  map[string]any // parsed object for structured frames
}

// Wire frames for the liveness protocol and outbound user messages.
type controlFrame struct {
	Type string `json:"type"`
}

type outboundMessage struct {
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

const (
	frameTypePing = "ping"
	frameTypePong = "pong"
)

// Classify decodes one inbound payload into a tagged Frame. Classification
// order, first match wins:
//
//  1. not a JSON object → FrameRaw
//  2. type == "ping" → FrameLiveness
//  3. numeric progress and taskId present → FrameProgress
//  4. anything else structured → FrameUnclassified
//
// Classify never fails; malformed input degrades to FrameRaw, so the receive
// path can never terminate the connection over a bad frame.
func Classify(data []byte) Frame {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return Frame{Kind: FrameRaw, Text: string(data)}
	}

	if t, ok := obj["type"].(string); ok && t == frameTypePing {
		return Frame{Kind: FrameLiveness, Payload: obj}
	}

	progress, hasProgress := asFloat(obj["progress"])
	taskID, hasTask := asInt64(obj["taskId"])
	if hasProgress && hasTask {
		ev := ProgressEvent{
			TaskID:   taskID,
			Progress: int(progress),
			Payload:  obj,
		}
		if v, ok := asInt64(obj["stage"]); ok {
			ev.Stage = int(v)
		}
		if v, ok := obj["stageDesc"].(string); ok {
			ev.StageDesc = v
		}
		if v, ok := asFloat(obj["estimatedRemainingTime"]); ok {
			ev.EstimatedRemaining = v
		}
		if v, ok := obj["videoUrl"].(string); ok {
			ev.VideoURL = v
		}
		return Frame{Kind: FrameProgress, Progress: ev, Payload: obj}
	}

	return Frame{Kind: FrameUnclassified, Payload: obj}
}

// asFloat extracts a numeric JSON value.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// asInt64 extracts a numeric JSON value as an integer id.
func asInt64(v any) (int64, bool) {
	f, ok := asFloat(v)
	if !ok {
		return 0, false
	}
	return int64(f), true
}
