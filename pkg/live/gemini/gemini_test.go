package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/AravindYuvraj/realtime-tutor/pkg/audio"
	"github.com/AravindYuvraj/realtime-tutor/pkg/live"
	"github.com/AravindYuvraj/realtime-tutor/pkg/live/gemini"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a test WebSocket server. The handler function
// receives the accepted *websocket.Conn. The server is automatically closed
// when the test finishes.
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// sendSetupComplete sends the server-side setupComplete ack.
func sendSetupComplete(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

// nextEvent waits for one event from the session.
func nextEvent(t *testing.T, sess live.Session) live.Event {
	t.Helper()
	select {
	case ev, ok := <-sess.Events():
		if !ok {
			t.Fatal("event channel closed while waiting for event")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return nil
}

// ── Connect / setup ───────────────────────────────────────────────────────────

func TestWithModel_SetsModel(t *testing.T) {
	t.Parallel()

	modelCh := make(chan string, 1)

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg struct {
			Setup struct {
				Model string `json:"model"`
			} `json:"setup"`
		}
		readJSON(t, conn, &msg)
		modelCh <- msg.Setup.Model
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	tr := gemini.New("key", gemini.WithModel("custom-model"), gemini.WithBaseURL(wsURL(srv)))
	sess, err := tr.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case model := <-modelCh:
		if want := "models/custom-model"; model != want {
			t.Errorf("model = %q; want %q", model, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for model in setup message")
	}
}

func TestConnect_SendsSetup(t *testing.T) {
	t.Parallel()

	type setupMsg struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				SpeechConfig       *struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
				} `json:"speechConfig"`
			} `json:"generationConfig"`
			SystemInstruction *struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
		} `json:"setup"`
	}

	received := make(chan setupMsg, 1)

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg setupMsg
		readJSON(t, conn, &msg)
		received <- msg
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	tr := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	sess, err := tr.Connect(context.Background(), live.SessionConfig{
		Voice:        "Kore",
		Instructions: "You are a friendly tutor.",
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case msg := <-received:
		if got := msg.Setup.GenerationConfig.ResponseModalities; len(got) != 1 || got[0] != "audio" {
			t.Errorf("responseModalities = %v; want [audio]", got)
		}
		sc := msg.Setup.GenerationConfig.SpeechConfig
		if sc == nil || sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Kore" {
			t.Errorf("voice config = %+v; want Kore", sc)
		}
		si := msg.Setup.SystemInstruction
		if si == nil || len(si.Parts) != 1 || si.Parts[0].Text != "You are a friendly tutor." {
			t.Errorf("systemInstruction = %+v; want the configured persona", si)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for setup message")
	}
}

func TestConnect_DialError(t *testing.T) {
	t.Parallel()

	tr := gemini.New("key", gemini.WithBaseURL("ws://127.0.0.1:1"))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := tr.Connect(ctx, live.SessionConfig{}); err == nil {
		t.Fatal("Connect succeeded against an unreachable endpoint")
	}
}

// ── Outbound messages ─────────────────────────────────────────────────────────

func TestSendAudio_TransmitsMediaChunk(t *testing.T) {
	t.Parallel()

	chunkCh := make(chan map[string]any, 1)

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)

		var msg struct {
			RealtimeInput struct {
				MediaChunks []map[string]any `json:"mediaChunks"`
			} `json:"realtimeInput"`
		}
		readJSON(t, conn, &msg)
		if len(msg.RealtimeInput.MediaChunks) == 1 {
			chunkCh <- msg.RealtimeInput.MediaChunks[0]
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	tr := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	sess, err := tr.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	payload := base64.StdEncoding.EncodeToString([]byte{1, 0, 2, 0})
	blob := audio.Blob{MIMEType: "audio/pcm;rate=16000", Data: payload}
	if err := sess.SendAudio(blob); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case chunk := <-chunkCh:
		if chunk["mimeType"] != "audio/pcm;rate=16000" {
			t.Errorf("mimeType = %v; want audio/pcm;rate=16000", chunk["mimeType"])
		}
		if chunk["data"] != payload {
			t.Errorf("data = %v; want the base64 payload unchanged", chunk["data"])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for media chunk")
	}
}

func TestSendText_SendsClientContent(t *testing.T) {
	t.Parallel()

	turnCh := make(chan struct {
		Role string
		Text string
		Done bool
	}, 1)

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)

		var msg struct {
			ClientContent struct {
				Turns []struct {
					Role  string `json:"role"`
					Parts []struct {
						Text string `json:"text"`
					} `json:"parts"`
				} `json:"turns"`
				TurnComplete bool `json:"turnComplete"`
			} `json:"clientContent"`
		}
		readJSON(t, conn, &msg)
		if len(msg.ClientContent.Turns) == 1 && len(msg.ClientContent.Turns[0].Parts) == 1 {
			turnCh <- struct {
				Role string
				Text string
				Done bool
			}{msg.ClientContent.Turns[0].Role, msg.ClientContent.Turns[0].Parts[0].Text, msg.ClientContent.TurnComplete}
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	tr := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	sess, err := tr.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	if err := sess.SendText("GAME: matching-pairs"); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	select {
	case turn := <-turnCh:
		if turn.Role != "user" {
			t.Errorf("role = %q; want user", turn.Role)
		}
		if turn.Text != "GAME: matching-pairs" {
			t.Errorf("text = %q; want the tag passed through verbatim", turn.Text)
		}
		if !turn.Done {
			t.Error("turnComplete = false; want true")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for client content")
	}
}

// ── Inbound events ────────────────────────────────────────────────────────────

func TestEvents_OpenThenAudio(t *testing.T) {
	t.Parallel()

	payload := base64.StdEncoding.EncodeToString([]byte{9, 0, 8, 0})

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []map[string]any{
						{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": payload}},
					},
				},
			},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	tr := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	sess, err := tr.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	if _, ok := nextEvent(t, sess).(live.OpenEvent); !ok {
		t.Fatal("first event is not OpenEvent")
	}

	ev, ok := nextEvent(t, sess).(live.AudioEvent)
	if !ok {
		t.Fatal("second event is not AudioEvent")
	}
	if ev.Blob.MIMEType != "audio/pcm;rate=24000" {
		t.Errorf("MIMEType = %q; want audio/pcm;rate=24000", ev.Blob.MIMEType)
	}
	if ev.Blob.Data != payload {
		t.Error("audio payload was not passed through unchanged")
	}
}

func TestEvents_InterruptedPrecedesAudioInSameMessage(t *testing.T) {
	t.Parallel()

	payload := base64.StdEncoding.EncodeToString([]byte{1, 1})

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"interrupted": true,
				"modelTurn": map[string]any{
					"parts": []map[string]any{
						{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": payload}},
					},
				},
			},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	tr := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	sess, err := tr.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	if _, ok := nextEvent(t, sess).(live.OpenEvent); !ok {
		t.Fatal("first event is not OpenEvent")
	}
	if _, ok := nextEvent(t, sess).(live.InterruptedEvent); !ok {
		t.Fatal("interruption did not precede the audio carried in the same message")
	}
	if _, ok := nextEvent(t, sess).(live.AudioEvent); !ok {
		t.Fatal("expected AudioEvent after InterruptedEvent")
	}
}

func TestEvents_Captions(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"inputTranscription": map[string]any{"text": "hello there"},
			},
		})
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"outputTranscription": map[string]any{"text": "hi, ready to practice?"},
			},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	tr := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	sess, err := tr.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	if _, ok := nextEvent(t, sess).(live.OpenEvent); !ok {
		t.Fatal("first event is not OpenEvent")
	}

	first, ok := nextEvent(t, sess).(live.CaptionEvent)
	if !ok || first.Speaker != "user" || first.Text != "hello there" {
		t.Errorf("first caption = %+v; want user/hello there", first)
	}
	second, ok := nextEvent(t, sess).(live.CaptionEvent)
	if !ok || second.Speaker != "model" || second.Text != "hi, ready to practice?" {
		t.Errorf("second caption = %+v; want model caption", second)
	}
}

func TestEvents_ServerError(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		writeJSON(t, conn, map[string]any{
			"error": map[string]any{"code": 8, "message": "quota exceeded"},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	tr := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	sess, err := tr.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	if _, ok := nextEvent(t, sess).(live.OpenEvent); !ok {
		t.Fatal("first event is not OpenEvent")
	}
	ev, ok := nextEvent(t, sess).(live.ErrorEvent)
	if !ok {
		t.Fatal("expected ErrorEvent")
	}
	if !strings.Contains(ev.Err.Error(), "quota exceeded") {
		t.Errorf("error = %v; want the server message surfaced", ev.Err)
	}
}

func TestEvents_ClosedOnServerDisconnect(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		// handler returns, closing the connection from the server side.
	})

	tr := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	sess, err := tr.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	sawClosed := false
	deadline := time.After(3 * time.Second)
	for !sawClosed {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				t.Fatal("channel closed without a terminal ClosedEvent")
			}
			if _, isClosed := ev.(live.ClosedEvent); isClosed {
				sawClosed = true
			}
		case <-deadline:
			t.Fatal("timeout waiting for ClosedEvent")
		}
	}

	// The channel must close after the terminal event.
	select {
	case _, ok := <-sess.Events():
		if ok {
			t.Error("received an event after ClosedEvent")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("channel not closed after ClosedEvent")
	}
}

func TestEvents_SlowConsumerStillGetsClosedEvent(t *testing.T) {
	t.Parallel()

	payload := base64.StdEncoding.EncodeToString(make([]byte, 4))
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		// Flood more audio than the event buffer holds, then disconnect.
		for range 64 {
			writeJSON(t, conn, map[string]any{
				"serverContent": map[string]any{
					"modelTurn": map[string]any{
						"parts": []map[string]any{
							{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": payload}},
						},
					},
				},
			})
		}
	})

	tr := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	sess, err := tr.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	// Consume nothing until the backlog is queued, then drain slower than
	// the receive loop refills. The terminal ClosedEvent must still arrive
	// before the channel closes, full buffer or not.
	time.Sleep(150 * time.Millisecond)

	var last live.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				if _, isClosed := last.(live.ClosedEvent); !isClosed {
					t.Fatalf("last event before channel close = %T; want ClosedEvent", last)
				}
				return
			}
			last = ev
			time.Sleep(time.Millisecond)
		case <-deadline:
			t.Fatal("timeout draining events")
		}
	}
}

// ── Close ─────────────────────────────────────────────────────────────────────

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	tr := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	sess, err := tr.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := sess.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	if err := sess.SendAudio(audio.Blob{MIMEType: "audio/pcm;rate=16000"}); err == nil {
		t.Error("SendAudio after Close succeeded; want error")
	}
	if err := sess.SendText("hi"); err == nil {
		t.Error("SendText after Close succeeded; want error")
	}
}
