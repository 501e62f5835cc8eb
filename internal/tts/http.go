package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-audio/wav"
)

// HTTPProvider renders speech through a remote synthesis service. POST
// {endpoint}/v1/speech returns {"audio_url": "..."}; the URL resolves against
// the endpoint when relative and serves a WAV file.
type HTTPProvider struct {
	endpoint *url.URL
	apiKey   string
	client   *http.Client
}

type HTTPOption func(*HTTPProvider)

func WithAPIKey(key string) HTTPOption {
	return func(p *HTTPProvider) { p.apiKey = key }
}

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(p *HTTPProvider) { p.client = c }
}

func NewHTTPProvider(endpoint string, opts ...HTTPOption) (*HTTPProvider, error) {
	u, err := url.Parse(strings.TrimRight(endpoint, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse tts endpoint: %w", err)
	}
	p := &HTTPProvider{endpoint: u, client: http.DefaultClient}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

type speechRequest struct {
	Text     string `json:"text"`
	Voice    string `json:"voice,omitempty"`
	Language string `json:"language,omitempty"`
	Format   string `json:"format"`
}

type speechResponse struct {
	AudioURL string `json:"audio_url"`
	Error    *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *HTTPProvider) Render(ctx context.Context, req SynthRequest) (Reference, error) {
	body, err := json.Marshal(speechRequest{Text: req.Text, Voice: req.Voice, Language: req.Language, Format: "wav"})
	if err != nil {
		return Reference{}, err
	}
	target := p.endpoint.ResolveReference(&url.URL{Path: "v1/speech"})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return Reference{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	p.authorize(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Reference{}, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	var out speechResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil && resp.StatusCode == http.StatusOK {
		return Reference{}, fmt.Errorf("decode tts response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if out.Error != nil && out.Error.Message != "" {
			return Reference{}, fmt.Errorf("tts: %s", out.Error.Message)
		}
		return Reference{}, fmt.Errorf("tts: unexpected status %d", resp.StatusCode)
	}
	if out.AudioURL == "" {
		return Reference{}, errors.New("tts: response missing audio_url")
	}
	ref, err := p.endpoint.Parse(out.AudioURL)
	if err != nil {
		return Reference{}, fmt.Errorf("tts: invalid audio_url: %w", err)
	}
	return Reference{URL: ref.String(), Format: "wav"}, nil
}

// Probe checks that the referenced audio is reachable.
func (p *HTTPProvider) Probe(ctx context.Context, ref Reference) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, ref.URL, nil)
	if err != nil {
		return err
	}
	p.authorize(req)
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe audio: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe audio: status %d", resp.StatusCode)
	}
	return nil
}

// Fetch downloads and decodes the referenced WAV file.
func (p *HTTPProvider) Fetch(ctx context.Context, ref Reference) (Audio, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return Audio{}, err
	}
	p.authorize(req)
	resp, err := p.client.Do(req)
	if err != nil {
		return Audio{}, fmt.Errorf("fetch audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Audio{}, fmt.Errorf("fetch audio: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return Audio{}, fmt.Errorf("fetch audio: %w", err)
	}
	return DecodeWAV(data)
}

func (p *HTTPProvider) authorize(req *http.Request) {
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}

// DecodeWAV converts a 16-bit WAV file to raw PCM.
func DecodeWAV(data []byte) (Audio, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Audio{}, errors.New("tts: invalid wav data")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Audio{}, fmt.Errorf("decode wav: %w", err)
	}
	if dec.BitDepth != 16 {
		return Audio{}, fmt.Errorf("decode wav: unsupported bit depth %d", dec.BitDepth)
	}
	pcm := make([]byte, 0, len(buf.Data)*2)
	for _, s := range buf.Data {
		v := int16(s)
		pcm = append(pcm, byte(v), byte(v>>8))
	}
	return Audio{PCM: pcm, SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}, nil
}
