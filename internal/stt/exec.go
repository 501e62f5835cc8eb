package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

type execTranscriber struct {
	cmd       []string
	modelPath string
	language  string
	mu        sync.Mutex
}

type execResult struct {
	Text       string       `json:"text"`
	Confidence float64      `json:"confidence"`
	Hypotheses []Hypothesis `json:"hypotheses"`
}

// NewExecTranscriber runs a local recognizer command (for example a whisper.cpp
// wrapper) per capture. The command receives --audio <wav> and prints JSON.
func NewExecTranscriber(command, modelPath, language string) (Transcriber, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &execTranscriber{cmd: args, modelPath: modelPath, language: language}, nil
}

func (r *execTranscriber) Transcribe(ctx context.Context, payload Payload) ([]Hypothesis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := os.CreateTemp(os.TempDir(), "loqa_interview_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if _, err := file.Write(payload.WAV); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}

	base := r.cmd[0]
	cmdArgs := append([]string{}, r.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", file.Name())
	if r.modelPath != "" {
		cmdArgs = append(cmdArgs, "--model", r.modelPath)
	}
	language := payload.Language
	if language == "" {
		language = r.language
	}
	if language != "" {
		cmdArgs = append(cmdArgs, "--language", language)
	}

	command := exec.CommandContext(ctx, base, cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("stt command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode stt response: %w", err)
	}
	hypotheses := resp.Hypotheses
	if len(hypotheses) == 0 && resp.Text != "" {
		hypotheses = []Hypothesis{{Text: resp.Text, Confidence: resp.Confidence}}
	}
	return normalizeConfidence(hypotheses), nil
}
