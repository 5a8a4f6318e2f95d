package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/agentboard/provider-gateway/internal/httputil"
	"github.com/agentboard/provider-gateway/internal/provider"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io/v1"
	defaultVoiceID = "21m00Tcm4TlvDq8ikWAM"
)

type Adapter struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func New(apiKey string) *Adapter {
	return &Adapter{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  httputil.DefaultClient(),
	}
}

func (a *Adapter) Name() string {
	return "elevenlabs"
}

// Synthesize renders the text to audio. The vendor bills per character of
// input, so Characters counts the request text, not the audio length.
func (a *Adapter) Synthesize(ctx context.Context, req provider.SpeechRequest) (*provider.SpeechResult, error) {
	voice := req.Voice
	if voice == "" {
		voice = defaultVoiceID
	}

	body, err := json.Marshal(wireRequest{
		Text:    req.Text,
		ModelID: req.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s", a.baseURL, voice)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", a.apiKey)
	httpReq.Header.Set("Accept", "audio/mpeg")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("elevenlabs error: status=%d body=%s", resp.StatusCode, string(bodyBytes))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}

	return &provider.SpeechResult{
		Audio:       audio,
		ContentType: contentType,
		Characters:  utf8.RuneCountInString(req.Text),
	}, nil
}

type wireRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id,omitempty"`
}
