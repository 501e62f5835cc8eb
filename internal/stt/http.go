package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// HTTPTranscriber submits WAV captures to a remote speech-to-text service.
type HTTPTranscriber struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// HTTPOption configures an HTTPTranscriber.
type HTTPOption func(*HTTPTranscriber)

// WithAPIKey sets the bearer token sent to the service.
func WithAPIKey(key string) HTTPOption {
	return func(t *HTTPTranscriber) {
		t.apiKey = key
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(t *HTTPTranscriber) {
		t.httpClient = client
	}
}

func NewHTTPTranscriber(endpoint string, opts ...HTTPOption) *HTTPTranscriber {
	t := &HTTPTranscriber{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type httpTranscriptionResponse struct {
	Results []struct {
		Transcript string  `json:"transcript"`
		Confidence float64 `json:"confidence"`
	} `json:"results"`
}

type httpErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (t *HTTPTranscriber) Transcribe(ctx context.Context, payload Payload) ([]Hypothesis, error) {
	query := url.Values{}
	query.Set("sample_rate", strconv.Itoa(payload.SampleRate))
	query.Set("channels", strconv.Itoa(payload.Channels))
	if payload.Language != "" {
		query.Set("language", payload.Language)
	}
	reqURL := t.endpoint + "/v1/transcriptions?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload.WAV))
	if err != nil {
		return nil, fmt.Errorf("stt: create request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stt: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("stt: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp httpErrorResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("stt: %s", errResp.Error.Message)
		}
		return nil, fmt.Errorf("stt: unexpected status %d: %s", resp.StatusCode, string(data))
	}

	var decoded httpTranscriptionResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("stt: decode response: %w", err)
	}
	hypotheses := make([]Hypothesis, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		hypotheses = append(hypotheses, Hypothesis{Text: r.Transcript, Confidence: r.Confidence})
	}
	return normalizeConfidence(hypotheses), nil
}
