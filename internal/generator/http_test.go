package generator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPAdapterPlainJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"Onee-sama!","emotion_tag":"excited"}`))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, 5*time.Second)
	var deltas []string
	reply, err := a.StreamReply(context.Background(), Request{InputText: "hi"}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamReply() error = %v", err)
	}
	if reply.Text != "Onee-sama!" || reply.EmotionTag != "excited" {
		t.Fatalf("reply = %+v", reply)
	}
	if strings.Join(deltas, "") != "Onee-sama!" {
		t.Fatalf("deltas = %v", deltas)
	}
}

func TestHTTPAdapterNDJSONStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte("{\"delta\":\"Hel\"}\n{\"delta\":\"lo\",\"emotion_tag\":\"calm\"}\n[DONE]\n"))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, 5*time.Second)
	var deltas []string
	reply, err := a.StreamReply(context.Background(), Request{}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamReply() error = %v", err)
	}
	if reply.Text != "Hello" {
		t.Fatalf("reply.Text = %q, want %q", reply.Text, "Hello")
	}
	if reply.EmotionTag != "calm" {
		t.Fatalf("reply.EmotionTag = %q, want %q", reply.EmotionTag, "calm")
	}
	if len(deltas) != 2 {
		t.Fatalf("deltas = %v, want two", deltas)
	}
}

func TestHTTPAdapterSSEStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"delta\":\"Hi \"}\n\ndata: {\"delta\":\"there\"}\n\ndata: [DONE]\n\n"))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, 5*time.Second)
	reply, err := a.StreamReply(context.Background(), Request{}, nil)
	if err != nil {
		t.Fatalf("StreamReply() error = %v", err)
	}
	if reply.Text != "Hi there" {
		t.Fatalf("reply.Text = %q, want %q", reply.Text, "Hi there")
	}
}

func TestHTTPAdapterErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend on fire", http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, 5*time.Second)
	if _, err := a.StreamReply(context.Background(), Request{}, nil); err == nil {
		t.Fatal("StreamReply() expected error for 502")
	}
}
