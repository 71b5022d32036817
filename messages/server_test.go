package messages

import (
	"testing"
)

func TestParseServerVariants(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		check func(t *testing.T, msg Server)
	}{
		{
			name:  "connected",
			frame: `{"type":"connected","sessionId":"abc-123"}`,
			check: func(t *testing.T, msg Server) {
				c, ok := msg.(Connected)
				if !ok {
					t.Fatalf("got %T, want Connected", msg)
				}
				if c.SessionID != "abc-123" {
					t.Errorf("sessionId = %q", c.SessionID)
				}
			},
		},
		{
			name:  "partial input transcription, isFinal absent",
			frame: `{"type":"input_transcription","text":"hel"}`,
			check: func(t *testing.T, msg Server) {
				tr, ok := msg.(InputTranscription)
				if !ok {
					t.Fatalf("got %T, want InputTranscription", msg)
				}
				if tr.IsFinal {
					t.Error("absent isFinal must parse as false")
				}
				if tr.Text != "hel" {
					t.Errorf("text = %q", tr.Text)
				}
			},
		},
		{
			name:  "final output transcription with language",
			frame: `{"type":"output_transcription","text":"hello","isFinal":true,"language":"en"}`,
			check: func(t *testing.T, msg Server) {
				tr, ok := msg.(OutputTranscription)
				if !ok {
					t.Fatalf("got %T, want OutputTranscription", msg)
				}
				if !tr.IsFinal || tr.Language != "en" {
					t.Errorf("got %+v", tr)
				}
			},
		},
		{
			name:  "audio response",
			frame: `{"type":"audio_response","data":"AAAA","sampleRate":24000}`,
			check: func(t *testing.T, msg Server) {
				ar, ok := msg.(AudioResponse)
				if !ok {
					t.Fatalf("got %T, want AudioResponse", msg)
				}
				if ar.Data != "AAAA" || ar.SampleRate != 24000 {
					t.Errorf("got %+v", ar)
				}
			},
		},
		{
			name:  "turn complete",
			frame: `{"type":"turn_complete","inputText":"hi","outputText":"bonjour"}`,
			check: func(t *testing.T, msg Server) {
				tc, ok := msg.(TurnComplete)
				if !ok {
					t.Fatalf("got %T, want TurnComplete", msg)
				}
				if tc.InputText != "hi" || tc.OutputText != "bonjour" {
					t.Errorf("got %+v", tc)
				}
			},
		},
		{
			name:  "speech state",
			frame: `{"type":"speech_state","state":"processing","timestamp":1700000000000}`,
			check: func(t *testing.T, msg Server) {
				ss, ok := msg.(SpeechStateChange)
				if !ok {
					t.Fatalf("got %T, want SpeechStateChange", msg)
				}
				if ss.State != SpeechProcessing {
					t.Errorf("state = %q", ss.State)
				}
			},
		},
		{
			name:  "error with code",
			frame: `{"type":"error","message":"boom","code":"INTERNAL"}`,
			check: func(t *testing.T, msg Server) {
				se, ok := msg.(ServerError)
				if !ok {
					t.Fatalf("got %T, want ServerError", msg)
				}
				if se.Message != "boom" || se.Code != "INTERNAL" {
					t.Errorf("got %+v", se)
				}
			},
		},
		{
			name:  "unrecognized type is preserved",
			frame: `{"type":"future_thing","whatever":1}`,
			check: func(t *testing.T, msg Server) {
				u, ok := msg.(Unknown)
				if !ok {
					t.Fatalf("got %T, want Unknown", msg)
				}
				if u.Type != "future_thing" {
					t.Errorf("type = %q", u.Type)
				}
				if len(u.Raw) == 0 {
					t.Error("raw frame not preserved")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseServer([]byte(tt.frame))
			if err != nil {
				t.Fatalf("ParseServer failed: %v", err)
			}
			tt.check(t, msg)
		})
	}
}

func TestParseServerMalformed(t *testing.T) {
	if _, err := ParseServer([]byte(`{"type":`)); err == nil {
		t.Error("expected error for truncated JSON")
	}
	if _, err := ParseServer([]byte(`not json at all`)); err == nil {
		t.Error("expected error for non-JSON frame")
	}
}

func TestMarshalOutbound(t *testing.T) {
	tests := []struct {
		name string
		msg  any
		want string
	}{
		{
			name: "init",
			msg:  NewInit(InitConfig{Language: "auto", UseWhisper: false, SampleRate: 16000}),
			want: `{"type":"init","config":{"language":"auto","useWhisper":false,"sampleRate":16000}}`,
		},
		{
			name: "audio",
			msg:  NewAudio("QUJD", 1700000000000),
			want: `{"type":"audio","data":"QUJD","timestamp":1700000000000}`,
		},
		{
			name: "interrupt",
			msg:  NewInterrupt(),
			want: `{"type":"interrupt"}`,
		},
		{
			name: "close",
			msg:  NewClose(),
			want: `{"type":"close"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.msg)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}
