package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/genai"
)

const (
	// DefaultModel is the live-capable model used when none is configured.
	DefaultModel = "gemini-2.0-flash-exp"

	// DefaultVoice is the synthesized voice for coach narration.
	DefaultVoice = "Aoede"

	// DefaultSystemInstruction is the fallback coaching persona.
	DefaultSystemInstruction = "You are a helpful yoga instructor. Watch the student's " +
		"form through the video feed and give short, encouraging spoken guidance on " +
		"alignment, balance and breathing."
)

var ErrMissingAPIKey = errors.New("coach: GEMINI_API_KEY is required")

type GeminiConfig struct {
	APIKey            string
	Model             string
	Voice             string
	SystemInstruction string
}

// GeminiDialer opens live streaming sessions against the Gemini API with an
// audio-only response modality and low media resolution.
type GeminiDialer struct {
	cfg GeminiConfig
	log *slog.Logger
}

func NewGeminiDialer(cfg GeminiConfig, log *slog.Logger) (*GeminiDialer, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if cfg.SystemInstruction == "" {
		cfg.SystemInstruction = DefaultSystemInstruction
	}
	if log == nil {
		log = slog.Default()
	}

	return &GeminiDialer{
		cfg: cfg,
		log: log.With("component", "gemini-dialer"),
	}, nil
}

func (d *GeminiDialer) Dial(ctx context.Context) (LiveSession, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  d.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	session, err := client.Live.Connect(ctx, d.cfg.Model, &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		MediaResolution:    genai.MediaResolutionLow,
		SystemInstruction:  genai.NewContentFromText(d.cfg.SystemInstruction, genai.RoleUser),
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: d.cfg.Voice},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect live session: %w", err)
	}

	d.log.Info("upstream live session connected", "model", d.cfg.Model, "voice", d.cfg.Voice)
	return &geminiSession{session: session}, nil
}

type geminiSession struct {
	session *genai.Session
}

func (s *geminiSession) SendVideoFrame(jpeg []byte) error {
	return s.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Video: &genai.Blob{MIMEType: "image/jpeg", Data: jpeg},
	})
}

func (s *geminiSession) SendTextTurn(text string) error {
	return s.session.SendClientContent(genai.LiveClientContentInput{
		Turns:        []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		TurnComplete: genai.Ptr(true),
	})
}

// ReceivePCM skips non-audio server messages and returns the next inline
// audio payload.
func (s *geminiSession) ReceivePCM() ([]byte, error) {
	for {
		msg, err := s.session.Receive()
		if err != nil {
			return nil, err
		}

		if msg.ServerContent == nil || msg.ServerContent.ModelTurn == nil {
			continue
		}
		for _, part := range msg.ServerContent.ModelTurn.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data, nil
			}
		}
	}
}

func (s *geminiSession) Close() error {
	return s.session.Close()
}
