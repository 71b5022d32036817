// Command mock-backend is a stand-in interpreter backend for local
// development. It speaks the client wire protocol over /ws, answering
// received speech with canned transcriptions and a sine tone, and
// serves a trivial auth endpoint that accepts any non-empty token.
package main

import (
	"encoding/base64"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func main() {
	addr := ":8000"
	if v := os.Getenv("PORT"); v != "" {
		addr = ":" + v
	}

	http.HandleFunc("/ws", handleWS)
	http.HandleFunc("/auth/verify", handleVerify)
	http.HandleFunc("/auth/google/login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "mock login: use any token, e.g. `login dev`")
	})

	log.Printf("mock backend listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func handleVerify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintln(w, `{"email":"dev@example.com","name":"Dev User"}`)
}

type clientFrame struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// conn serializes writes; the turn generator and the reader both send.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) send(v any) {
	payload, err := sonic.Marshal(v)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_ = c.ws.WriteMessage(websocket.TextMessage, payload)
}

func handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	c := &conn{ws: ws}
	sessionID := uuid.NewString()
	log.Printf("session %s connected", sessionID)

	c.send(struct {
		Type      string `json:"type"`
		SessionID string `json:"sessionId"`
	}{"connected", sessionID})

	var (
		audioFrames int
		interrupt   = make(chan struct{}, 1)
		turnBusy    bool
		turnMu      sync.Mutex
	)

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			log.Printf("session %s closed: %v", sessionID, err)
			return
		}

		var msg clientFrame
		if err := sonic.Unmarshal(frame, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "init":
			log.Printf("session %s initialized", sessionID)
		case "audio":
			audioFrames++
			// Roughly two seconds of speech triggers a canned turn.
			if audioFrames >= 8 {
				audioFrames = 0
				turnMu.Lock()
				if !turnBusy {
					turnBusy = true
					go func() {
						runTurn(c, interrupt)
						turnMu.Lock()
						turnBusy = false
						turnMu.Unlock()
					}()
				}
				turnMu.Unlock()
			}
		case "interrupt":
			select {
			case interrupt <- struct{}{}:
			default:
			}
		case "close":
			log.Printf("session %s said goodbye", sessionID)
			return
		}
	}
}

// runTurn plays out one scripted interpretation turn, honoring
// interrupts between steps.
func runTurn(c *conn, interrupt <-chan struct{}) {
	type transcription struct {
		Type    string `json:"type"`
		Text    string `json:"text"`
		IsFinal bool   `json:"isFinal"`
	}
	type speechState struct {
		Type      string `json:"type"`
		State     string `json:"state"`
		Timestamp int64  `json:"timestamp"`
	}
	type audioResponse struct {
		Type       string `json:"type"`
		Data       string `json:"data"`
		SampleRate int    `json:"sampleRate"`
	}
	type turnComplete struct {
		Type       string `json:"type"`
		InputText  string `json:"inputText"`
		OutputText string `json:"outputText"`
	}

	step := func(d time.Duration) bool {
		select {
		case <-interrupt:
			return false
		case <-time.After(d):
			return true
		}
	}

	c.send(speechState{"speech_state", "processing", time.Now().UnixMilli()})
	c.send(transcription{"input_transcription", "hello", false})
	if !step(200 * time.Millisecond) {
		return
	}
	c.send(transcription{"input_transcription", "hello, how are you?", true})

	c.send(speechState{"speech_state", "speaking", time.Now().UnixMilli()})
	c.send(transcription{"output_transcription", "bonjour,", false})

	// Half a second of 440 Hz in five chunks.
	for i := 0; i < 5; i++ {
		if !step(100 * time.Millisecond) {
			return
		}
		c.send(audioResponse{"audio_response", sineChunk(440, 24000, 2400, i*2400), 24000})
	}

	if !step(200 * time.Millisecond) {
		return
	}
	c.send(transcription{"output_transcription", "bonjour, comment allez-vous ?", true})
	c.send(turnComplete{"turn_complete", "hello, how are you?", "bonjour, comment allez-vous ?"})
	c.send(speechState{"speech_state", "silent", time.Now().UnixMilli()})
}

// sineChunk renders n samples of a sine tone as base64 s16le PCM,
// phase-continuous across chunks via the offset.
func sineChunk(freq, sampleRate, n, offset int) string {
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		phase := 2 * math.Pi * float64(freq) * float64(offset+i) / float64(sampleRate)
		v := int16(0.3 * 32767 * math.Sin(phase))
		buf[i*2] = byte(v)
		buf[i*2+1] = byte(v >> 8)
	}
	return base64.StdEncoding.EncodeToString(buf)
}
