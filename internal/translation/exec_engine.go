package translation

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/recognition"
	"github.com/mattn/go-shellwords"
)

// execEngine runs an external translator once per request. The process
// must print a single NativeTranslation JSON document on stdout.
type execEngine struct {
	cmd []string
	cfg config.TranslationConfig
	mu  sync.Mutex
}

func NewExecEngine(cfg config.TranslationConfig) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse translation command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("translation command is empty")
	}
	return &execEngine{cmd: args, cfg: cfg}, nil
}

func (e *execEngine) Translate(ctx context.Context, req Request) (recognition.NativeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	file, err := os.CreateTemp("", "loqa_translate_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writePCMToWav(file, req.PCM, req.SampleRate, req.Channels); err != nil {
		return nil, err
	}

	command := exec.CommandContext(ctx, e.cmd[0], e.buildArgs(file.Name(), req)...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("translation command failed: %w: %s", err, stderr.String())
	}

	handle, err := DecodePayloadHandle(stdout.Bytes())
	if err != nil {
		return nil, err
	}
	return handle, nil
}

func (e *execEngine) buildArgs(audioPath string, req Request) []string {
	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--audio", audioPath)
	if e.cfg.ModelPath != "" {
		args = append(args, "--model", e.cfg.ModelPath)
	}
	if req.SourceLanguage != "" {
		args = append(args, "--source", req.SourceLanguage)
	}
	for _, lang := range req.TargetLanguages {
		args = append(args, "--target", lang)
	}
	if e.cfg.PublishInterim && !req.Final {
		args = append(args, "--partial")
	}
	return args
}

func writePCMToWav(w io.WriteSeeker, pcm []byte, sampleRate int, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(w, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
