// Command probe exercises an interpreter backend without a microphone:
// it streams a PCM or WAV file over the session protocol at real-time
// pace, prints every transcription it gets back, and plays response
// audio through sox.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"

	"github.com/room4-2/OpenInterpreter/audio"
	"github.com/room4-2/OpenInterpreter/messages"
	"github.com/room4-2/OpenInterpreter/session"
)

func main() {
	serverURL := flag.String("server", "ws://localhost:8000/ws", "WebSocket server URL")
	audioFile := flag.String("file", "examples/user.pcm", "audio file to send (raw s16le PCM or WAV, 16kHz mono)")
	language := flag.String("language", "auto", "target language")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	pcm, err := loadAudioFile(*audioFile)
	if err != nil {
		logger.Fatal("load audio file", zap.Error(err))
	}

	player, err := audio.NewSoxPlayer(audio.PlaybackSampleRate)
	if err != nil {
		logger.Fatal("open playback", zap.Error(err))
	}
	scheduler := audio.NewScheduler(player, audio.PlaybackSampleRate, nil, logger)
	defer scheduler.Stop()

	client := session.NewStreamClient(*serverURL, 0, 0, logger)
	if err := client.Connect(messages.InitConfig{
		Language:   *language,
		SampleRate: audio.CaptureSampleRate,
	}); err != nil {
		logger.Fatal("connect", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range client.Events() {
			mr, ok := ev.(session.MessageReceived)
			if !ok {
				continue
			}
			switch m := mr.Msg.(type) {
			case messages.Connected:
				logger.Info("session established", zap.String("sessionId", m.SessionID))
			case messages.InputTranscription:
				logger.Info("you", zap.String("text", m.Text), zap.Bool("final", m.IsFinal))
			case messages.OutputTranscription:
				logger.Info("interpreter", zap.String("text", m.Text), zap.Bool("final", m.IsFinal))
			case messages.AudioResponse:
				if samples, err := audio.DecodePCM16(m.Data); err == nil {
					scheduler.Schedule(samples)
				}
			case messages.TurnComplete:
				logger.Info("turn complete",
					zap.String("in", m.InputText),
					zap.String("out", m.OutputText))
			case messages.ServerError:
				logger.Warn("server error", zap.String("message", m.Message))
			}
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	// Stream the file as full capture frames at real-time pace.
	framer := audio.NewFramer(audio.FrameSize)
	frameDur := audio.Duration(audio.FrameSize, audio.CaptureSampleRate)
	for _, frame := range framer.Push(pcm) {
		client.SendAudioData(audio.EncodePCM16(frame), time.Now().UnixMilli())
		select {
		case <-interrupt:
			client.Disconnect(true)
			<-done
			return
		case <-time.After(frameDur):
		}
	}
	logger.Info("audio sent, waiting for the turn to finish")

	select {
	case <-done:
	case <-interrupt:
	case <-time.After(30 * time.Second):
		logger.Warn("timed out waiting for response")
	}
	client.Disconnect(true)
	<-done
}

// loadAudioFile reads raw PCM bytes, stripping the 44-byte header when
// the file is a standard WAV.
func loadAudioFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) > 44 && string(data[0:4]) == "RIFF" {
		return data[44:], nil
	}
	return data, nil
}
