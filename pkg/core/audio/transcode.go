package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/vishwasetu/relay/pkg/core"
)

// Format identifies the container of an inbound audio upload.
type Format string

const (
	FormatPCM Format = "pcm"
	FormatCAF Format = "caf"
	FormatAAC Format = "aac"
	FormatM4A Format = "m4a"
)

// ParseFormat validates a client-supplied format tag.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatPCM:
		return FormatPCM, nil
	case FormatCAF:
		return FormatCAF, nil
	case FormatAAC:
		return FormatAAC, nil
	case FormatM4A:
		return FormatM4A, nil
	default:
		return "", core.NewInvalidRequestErrorWithParam(
			fmt.Sprintf("unsupported audio format %q", s), "format")
	}
}

// Compressed reports whether the format requires transcoding before forwarding.
func (f Format) Compressed() bool {
	return f != FormatPCM
}

// Transcoder converts a compressed-container recording to 16 kHz mono s16le
// PCM, the format contract with the upstream live endpoint.
type Transcoder interface {
	Transcode(ctx context.Context, data []byte, format Format) ([]byte, error)
}

// FFmpegTranscoder shells out to ffmpeg through temp files. File-based I/O
// rather than stdin/stdout pipes: CAF demuxing needs a seekable input.
type FFmpegTranscoder struct {
	// Path is the ffmpeg binary to invoke. Empty means "ffmpeg" on PATH.
	Path string
	// Dir overrides the temp directory. Empty means os.TempDir().
	Dir string
}

func (t *FFmpegTranscoder) Transcode(ctx context.Context, data []byte, format Format) ([]byte, error) {
	if len(data) == 0 {
		return nil, core.NewConversionError(fmt.Errorf("input audio buffer is empty"))
	}
	if !format.Compressed() {
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}

	bin := t.Path
	if bin == "" {
		bin = "ffmpeg"
	}
	dir := t.Dir
	if dir == "" {
		dir = os.TempDir()
	}

	id := uuid.NewString()
	inPath := filepath.Join(dir, fmt.Sprintf("relay-in-%s.%s", id, format))
	outPath := filepath.Join(dir, fmt.Sprintf("relay-out-%s.pcm", id))
	defer os.Remove(inPath)
	defer os.Remove(outPath)

	if err := os.WriteFile(inPath, data, 0o600); err != nil {
		return nil, core.NewConversionError(fmt.Errorf("write temp input: %w", err))
	}

	// m4a is an MP4 container; ffmpeg wants the demuxer name, not the extension.
	demuxer := string(format)
	if format == FormatM4A {
		demuxer = "mp4"
	}

	cmd := exec.CommandContext(ctx, bin,
		"-hide_banner", "-loglevel", "error",
		"-f", demuxer,
		"-i", inPath,
		"-ar", "16000",
		"-ac", "1",
		"-acodec", "pcm_s16le",
		"-f", "s16le",
		"-y", outPath,
	)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, core.NewConversionError(fmt.Errorf("ffmpeg: %s", msg))
	}

	pcm, err := os.ReadFile(outPath)
	if err != nil {
		return nil, core.NewConversionError(fmt.Errorf("read temp output: %w", err))
	}
	if len(pcm) == 0 {
		return nil, core.NewConversionError(fmt.Errorf("conversion produced an empty buffer"))
	}
	return pcm, nil
}
