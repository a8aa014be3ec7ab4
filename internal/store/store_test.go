package store

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/catchat-dev/catchat/internal/kv"
)

func newTestStore(t *testing.T) (*Store, kv.Store) {
	t.Helper()
	backend := kv.NewMemoryStore()
	s := New(backend)
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s, backend
}

func TestLoad_CreatesInitialSession(t *testing.T) {
	s, _ := newTestStore(t)

	sessions := s.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	if sessions[0].Title != DefaultTitle {
		t.Errorf("title = %q, want %q", sessions[0].Title, DefaultTitle)
	}
	if !strings.HasPrefix(sessions[0].ID, "session_") {
		t.Errorf("id = %q, want session_ prefix", sessions[0].ID)
	}
	if s.CurrentID() != sessions[0].ID {
		t.Errorf("current = %q, want %q", s.CurrentID(), sessions[0].ID)
	}
	msgs := s.ActiveMessages()
	if len(msgs) != 1 || msgs[0].Role != RoleAssistant {
		t.Fatalf("want one assistant welcome message, got %+v", msgs)
	}
}

func TestLoad_RestoresPersistedState(t *testing.T) {
	s, backend := newTestStore(t)
	s.SendUser("hello")
	id := s.CurrentID()

	reopened := New(backend)
	if err := reopened.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reopened.CurrentID() != id {
		t.Errorf("current = %q, want %q", reopened.CurrentID(), id)
	}
	msgs := reopened.ActiveMessages()
	if len(msgs) != 2 || msgs[1].Content != "hello" {
		t.Fatalf("restored messages = %+v", msgs)
	}
}

func TestLoad_StaleCurrentPromotesFirst(t *testing.T) {
	s, backend := newTestStore(t)
	want := s.CurrentID()
	if err := backend.Set(kv.KeyCurrentSession, "session_gone"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	reopened := New(backend)
	if err := reopened.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reopened.CurrentID() != want {
		t.Errorf("current = %q, want first session %q", reopened.CurrentID(), want)
	}
}

func TestTitleAssignment(t *testing.T) {
	cases := []struct {
		content string
		want    string
	}{
		{"hello", "hello"},
		{"aaaaaaaaaabbbbbbbbbbccccc", "aaaaaaaaaabbbbbbbbbb..."}, // 25 chars
	}
	for _, tc := range cases {
		s, _ := newTestStore(t)
		s.SendUser(tc.content)
		if got := s.Sessions()[0].Title; got != tc.want {
			t.Errorf("title for %q = %q, want %q", tc.content, got, tc.want)
		}
	}
}

func TestTitleAssignment_FirstUserMessageOnly(t *testing.T) {
	s, _ := newTestStore(t)
	s.AppendAssistant("ignored for titles")
	s.SendUser("first")
	s.SendUser("second")
	if got := s.Sessions()[0].Title; got != "first" {
		t.Errorf("title = %q, want %q", got, "first")
	}
}

func TestProgressMerge_AppendsHistory(t *testing.T) {
	s, _ := newTestStore(t)
	s.AppendVideoPlaceholder(42, "generating your video")

	id, ok := s.ResolveTask(42)
	if !ok {
		t.Fatal("ResolveTask(42) found nothing")
	}
	if err := s.UpdateMessage(id, VideoUpdate{Progress: 30, Stage: 1, StageDesc: "start"}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if err := s.UpdateMessage(id, VideoUpdate{Progress: 55, Stage: 2, StageDesc: "encode", EstimatedRemaining: 9}); err != nil {
		t.Fatalf("second update: %v", err)
	}

	msgs := s.ActiveMessages()
	last := msgs[len(msgs)-1]
	if last.Video == nil {
		t.Fatal("video state missing after merge")
	}
	if !reflect.DeepEqual(last.Video.StageHistory, []string{"start", "encode"}) {
		t.Errorf("history = %v, want [start encode]", last.Video.StageHistory)
	}
	if last.Video.Progress != 55 || last.Video.Stage != 2 {
		t.Errorf("progress/stage = %d/%d, want 55/2", last.Video.Progress, last.Video.Stage)
	}
	if last.TaskID != 42 || last.Timestamp != id {
		t.Errorf("identity fields changed: task=%d id=%d", last.TaskID, last.Timestamp)
	}
}

func TestProgressMerge_OneHistoryEntryPerUpdate(t *testing.T) {
	s, _ := newTestStore(t)
	s.AppendVideoPlaceholder(42, "generating")
	id, ok := s.ResolveTask(42)
	if !ok {
		t.Fatal("ResolveTask(42) found nothing")
	}

	if err := s.UpdateMessage(id, VideoUpdate{Progress: 10, StageDesc: "start"}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	// Updates carry no stage description sometimes; the history still grows.
	if err := s.UpdateMessage(id, VideoUpdate{Progress: 55}); err != nil {
		t.Fatalf("second update: %v", err)
	}

	msgs := s.ActiveMessages()
	last := msgs[len(msgs)-1]
	if !reflect.DeepEqual(last.Video.StageHistory, []string{"start", ""}) {
		t.Errorf("history = %q, want one entry per update", last.Video.StageHistory)
	}
	if last.Video.Progress != 55 {
		t.Errorf("progress = %d, want 55", last.Video.Progress)
	}
}

func TestUpdateMessage_UnknownTargetLeavesStateUntouched(t *testing.T) {
	s, _ := newTestStore(t)
	s.AppendVideoPlaceholder(42, "generating")
	before := s.Sessions()

	err := s.UpdateMessage(999999, VideoUpdate{Progress: 10, StageDesc: "start"})
	if !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("err = %v, want ErrMessageNotFound", err)
	}
	if !reflect.DeepEqual(before, s.Sessions()) {
		t.Error("sessions changed after a dropped update")
	}
}

func TestAppend_ExplicitStampStaysUnique(t *testing.T) {
	s, _ := newTestStore(t)
	stamp := time.Now().UnixMilli() + 10000

	first := s.Append(Message{Timestamp: stamp, Role: RoleUser, Kind: KindText, Content: "echo"})
	// Same-millisecond arrival with the same wire timestamp.
	second := s.Append(Message{Timestamp: stamp, Role: RoleAssistant, Kind: KindText, Content: "notice"})
	third := s.SendUser("follow-up")

	if first != stamp {
		t.Errorf("first stamp = %d, want %d", first, stamp)
	}
	if second <= first || third <= second {
		t.Fatalf("stamps not strictly increasing: %d, %d, %d", first, second, third)
	}

	seen := map[int64]bool{}
	for _, m := range s.ActiveMessages() {
		if seen[m.Timestamp] {
			t.Fatalf("duplicate timestamp %d in session", m.Timestamp)
		}
		seen[m.Timestamp] = true
	}
}

func TestLoad_SeedsStampWatermark(t *testing.T) {
	s, backend := newTestStore(t)
	stamp := time.Now().UnixMilli() + 10000
	s.Append(Message{Timestamp: stamp, Role: RoleUser, Kind: KindText, Content: "future"})

	reopened := New(backend)
	if err := reopened.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := reopened.SendUser("next"); got <= stamp {
		t.Fatalf("stamp after reload = %d, want > persisted %d", got, stamp)
	}
}

func TestSwitchSession_RoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	a := s.CurrentID()
	s.SendUser("message in a")
	wantA := s.ActiveMessages()

	b := s.CreateSession()
	s.SendUser("message in b")
	wantB := s.ActiveMessages()

	if err := s.SwitchSession(a); err != nil {
		t.Fatalf("switch to a: %v", err)
	}
	if got := s.ActiveMessages(); !reflect.DeepEqual(got, wantA) {
		t.Errorf("a after round trip = %+v, want %+v", got, wantA)
	}
	if err := s.SwitchSession(b); err != nil {
		t.Fatalf("switch to b: %v", err)
	}
	if got := s.ActiveMessages(); !reflect.DeepEqual(got, wantB) {
		t.Errorf("b after round trip = %+v, want %+v", got, wantB)
	}
}

func TestSwitchSession_Unknown(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.SwitchSession("session_missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestResolveTask_ActiveThreadWins(t *testing.T) {
	s, _ := newTestStore(t)
	s.AppendVideoPlaceholder(7, "old placeholder")

	s.CreateSession()
	wantID := s.AppendVideoPlaceholder(7, "new placeholder")

	id, ok := s.ResolveTask(7)
	if !ok || id != wantID {
		t.Fatalf("ResolveTask = (%d, %v), want (%d, true)", id, ok, wantID)
	}
}

func TestUpdateMessage_InactiveSession(t *testing.T) {
	s, _ := newTestStore(t)
	a := s.CurrentID()
	id := s.AppendVideoPlaceholder(9, "generating")
	s.CreateSession()

	if err := s.UpdateMessage(id, VideoUpdate{Progress: 100, StageDesc: "done", VideoURL: "https://cdn/x.mp4"}); err != nil {
		t.Fatalf("UpdateMessage: %v", err)
	}
	for _, sess := range s.Sessions() {
		if sess.ID != a {
			continue
		}
		last := sess.Messages[len(sess.Messages)-1]
		if last.Video == nil || last.Video.Progress != 100 || last.Video.VideoURL != "https://cdn/x.mp4" {
			t.Fatalf("merge missed inactive session: %+v", last)
		}
		return
	}
	t.Fatal("session a disappeared")
}

func TestDeleteSession_PromotesRemaining(t *testing.T) {
	s, _ := newTestStore(t)
	a := s.CurrentID()
	b := s.CreateSession()

	if err := s.DeleteSession(b); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if s.CurrentID() != a {
		t.Errorf("current = %q, want promoted %q", s.CurrentID(), a)
	}
}

func TestDeleteSession_LastCreatesFresh(t *testing.T) {
	s, _ := newTestStore(t)
	a := s.CurrentID()

	if err := s.DeleteSession(a); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if len(s.Sessions()) != 1 {
		t.Fatalf("sessions = %d, want 1 fresh session", len(s.Sessions()))
	}
	if s.CurrentID() == a {
		t.Error("deleted session still active")
	}
}
