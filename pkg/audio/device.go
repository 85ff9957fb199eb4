// Package audio provides capture and playback of raw PCM through external
// commands, and format conversion between PCM streams.
//
// Capture and playback are delegated to the host's audio tools (arecord and
// aplay, pw-record and pw-play, sox) so the daemon needs no cgo sound
// bindings. Command arguments may contain the placeholders {rate} and
// {channels}, which are expanded from the stream format.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// Source produces a stream of captured PCM.
type Source interface {
	// Open starts capturing. The stream ends when ctx is done or the reader
	// is closed.
	Open(ctx context.Context) (io.ReadCloser, error)

	// Format is the format of the captured stream.
	Format() Format
}

// Sink plays PCM.
type Sink interface {
	// Play blocks until pcm is exhausted and playback has finished, or ctx is
	// done.
	Play(ctx context.Context, pcm io.Reader, f Format) error
}

// DefaultCaptureFormat is what speech recognisers expect.
var DefaultCaptureFormat = Format{SampleRate: 16000, Channels: 1}

func expand(args []string, f Format) []string {
	r := strings.NewReplacer("{rate}", strconv.Itoa(f.SampleRate), "{channels}", strconv.Itoa(f.Channels))
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

// CommandSource captures audio from the stdout of an external command.
type CommandSource struct {
	Command string
	Args    []string
	Fmt     Format
}

var _ Source = (*CommandSource)(nil)

// NewCommandSource returns a source running command. Empty command uses
// arecord with raw S16_LE output.
func NewCommandSource(command string, args []string, f Format) *CommandSource {
	if f.SampleRate == 0 {
		f = DefaultCaptureFormat
	}
	if command == "" {
		command = "arecord"
		args = []string{"-q", "-t", "raw", "-f", "S16_LE", "-r", "{rate}", "-c", "{channels}"}
	}
	return &CommandSource{Command: command, Args: args, Fmt: f}
}

// Format implements [Source].
func (s *CommandSource) Format() Format { return s.Fmt }

// Open implements [Source].
func (s *CommandSource) Open(ctx context.Context) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, s.Command, expand(s.Args, s.Fmt)...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("audio: %s: %w", s.Command, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("audio: start %s: %w", s.Command, err)
	}
	return &procReader{ReadCloser: out, cmd: cmd}, nil
}

// procReader stops the capture process when closed.
type procReader struct {
	io.ReadCloser
	cmd  *exec.Cmd
	once sync.Once
}

func (p *procReader) Close() error {
	p.once.Do(func() {
		_ = p.cmd.Process.Kill()
		_ = p.ReadCloser.Close()
		_ = p.cmd.Wait()
	})
	return nil
}

// CommandSink plays audio by piping it into the stdin of an external
// command.
type CommandSink struct {
	Command string
	Args    []string
}

var _ Sink = (*CommandSink)(nil)

// NewCommandSink returns a sink running command. Empty command uses aplay.
func NewCommandSink(command string, args []string) *CommandSink {
	if command == "" {
		command = "aplay"
		args = []string{"-q", "-t", "raw", "-f", "S16_LE", "-r", "{rate}", "-c", "{channels}"}
	}
	return &CommandSink{Command: command, Args: args}
}

// Play implements [Sink].
func (s *CommandSink) Play(ctx context.Context, pcm io.Reader, f Format) error {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return errors.New("audio: invalid playback format")
	}
	cmd := exec.CommandContext(ctx, s.Command, expand(s.Args, f)...)
	cmd.Stdin = pcm
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("audio: %s: %w: %s", s.Command, err, strings.TrimSpace(string(out)))
	}
	return nil
}
