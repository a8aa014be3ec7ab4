package videoapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func envelopeJSON(code int, message string, data any) []byte {
	out, _ := json.Marshal(map[string]any{"code": code, "message": message, "data": data})
	return out
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/video/generate" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var input GenerateInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if input.Prompt != "a cat surfing" || input.Code == "" {
			t.Errorf("input = %+v", input)
		}
		w.Write(envelopeJSON(200, "ok", map[string]any{"taskId": 4711}))
	}))
	defer srv.Close()

	c := New(srv.URL)
	taskID, err := c.Generate(context.Background(), GenerateInput{Prompt: "a cat surfing", Code: "user_1_abc"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if taskID != 4711 {
		t.Errorf("taskID = %d, want 4711", taskID)
	}
}

func TestProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/video/progress/9" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write(envelopeJSON(200, "ok", map[string]any{
			"progress": 70, "stage": 3, "stageDesc": "upload", "videoUrl": "",
		}))
	}))
	defer srv.Close()

	p, err := New(srv.URL).Progress(context.Background(), 9)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if p.TaskID != 9 || p.Progress != 70 || p.StageDesc != "upload" {
		t.Errorf("progress = %+v", p)
	}
}

func TestErrorKinds(t *testing.T) {
	cases := []struct {
		code int
		want error
	}{
		{401, ErrUnauthorized},
		{400, ErrInvalidParams},
		{404, ErrNotFound},
		{500, ErrServer},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(envelopeJSON(tc.code, "nope", nil))
		}))
		_, err := New(srv.URL).Generate(context.Background(), GenerateInput{Prompt: "x"})
		srv.Close()
		if !errors.Is(err, tc.want) {
			t.Errorf("code %d: err = %v, want %v", tc.code, err, tc.want)
		}
	}
}

func TestCancel_RefusedIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(envelopeJSON(404, "task gone", nil))
	}))
	defer srv.Close()

	ok, err := New(srv.URL).Cancel(context.Background(), 12)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if ok {
		t.Error("refused cancel reported as success")
	}
}

func TestRateLimiterHonorsContext(t *testing.T) {
	c := New("http://127.0.0.1:0", WithRateLimit(0.001, 1))
	// First request consumes the burst token.
	_, _ = c.TestFileURL(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.TestFileURL(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestCheckFileAndDownloadURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/file/check":
			w.Write(envelopeJSON(200, "ok", map[string]any{"exists": true}))
		case "/file/download":
			if r.URL.Query().Get("path") != "v/1.mp4" {
				t.Errorf("path param = %q", r.URL.Query().Get("path"))
			}
			w.Write(envelopeJSON(200, "ok", "https://cdn.example.com/v/1.mp4"))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	exists, err := c.CheckFile(context.Background(), "v/1.mp4")
	if err != nil || !exists {
		t.Fatalf("CheckFile = %v, %v", exists, err)
	}
	u, err := c.DownloadURL(context.Background(), "v/1.mp4")
	if err != nil || u != "https://cdn.example.com/v/1.mp4" {
		t.Fatalf("DownloadURL = %q, %v", u, err)
	}
}
