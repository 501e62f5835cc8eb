package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"
)

// ExecPlayer pipes raw PCM to a playback command such as aplay. The tokens
// {rate} and {channels} in the command are replaced per playback.
type ExecPlayer struct {
	cmd []string
}

func NewExecPlayer(command string) (*ExecPlayer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse player command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("player command empty")
	}
	return &ExecPlayer{cmd: args}, nil
}

func (p *ExecPlayer) Play(ctx context.Context, audio Audio) error {
	if len(audio.PCM) == 0 {
		return nil
	}
	replacer := strings.NewReplacer(
		"{rate}", strconv.Itoa(audio.SampleRate),
		"{channels}", strconv.Itoa(audio.Channels),
	)
	args := make([]string, len(p.cmd))
	for i, a := range p.cmd {
		args[i] = replacer.Replace(a)
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = bytes.NewReader(audio.PCM)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && stderr.Len() > 0 {
			return fmt.Errorf("player: %s", strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("player: %w", err)
	}
	return nil
}
