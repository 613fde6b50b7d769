// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package media wraps the ffmpeg and ffprobe executables as the pipeline's
// video decoder.
//
// Logic Flow:
//  1. Probe sniffs the first bytes of the file with the `filetype` library and
//     rejects anything recognisably not a video, then asks ffprobe for the
//     container and stream metadata.
//  2. Frames asks ffmpeg for raw RGB24 frames scaled to the analysis width and
//     streams them to a callback one at a time, so a long video never has to
//     fit in memory.
//  3. ExtractFrame, ExtractAudio and TrimAudio each run one ffmpeg invocation
//     that writes a single artifact.
//
// Input problems (not a video, no video stream, undecodable) are reported as
// model.InputError so the orchestrator never retries them.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/h2non/filetype"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/scenes"
)

const (
	DefaultFFmpegPath    = "ffmpeg"
	DefaultFFprobePath   = "ffprobe"
	DefaultAnalysisWidth = 256

	sniffLength = 262
)

// FFmpegDecoder runs ffmpeg and ffprobe from the configured paths.
type FFmpegDecoder struct {
	ffmpegPath  string
	ffprobePath string
	log         *slog.Logger
}

// NewFFmpegDecoder creates a decoder. Empty paths resolve through $PATH.
func NewFFmpegDecoder(ffmpegPath, ffprobePath string, log *slog.Logger) *FFmpegDecoder {
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = DefaultFFmpegPath
	}
	if strings.TrimSpace(ffprobePath) == "" {
		ffprobePath = DefaultFFprobePath
	}
	if log == nil {
		log = slog.Default()
	}
	return &FFmpegDecoder{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, log: log}
}

// Probe reads the metadata of the video at path.
func (d *FFmpegDecoder) Probe(ctx context.Context, path string) (*Info, error) {
	mimeType, err := sniff(path)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, d.ffprobePath, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, model.NewInputError("undecodable video", fmt.Errorf("%w: %s", model.ErrCorruptInput, strings.TrimSpace(stderr.String())))
		}
		return nil, fmt.Errorf("ffprobe inspect: %w", err)
	}

	info, err := parseProbe(out)
	if err != nil {
		return nil, model.NewInputError("not a video", fmt.Errorf("%w: %v", model.ErrUnsupportedFormat, err))
	}
	if info.Duration <= 0 {
		return nil, model.NewInputError("zero-duration asset", model.ErrCorruptInput)
	}
	info.MIMEType = mimeType
	return info, nil
}

// sniff returns the detected MIME type. Files the library does not recognise
// are left to ffprobe; files it recognises as something other than video are
// rejected.
func sniff(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, sniffLength)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	if n == 0 {
		return "", model.NewInputError("empty upload", model.ErrCorruptInput)
	}
	head = head[:n]

	kind, _ := filetype.Match(head)
	if kind == filetype.Unknown {
		return "application/octet-stream", nil
	}
	if !filetype.IsVideo(head) {
		return "", model.NewInputError(fmt.Sprintf("unsupported file type %s", kind.MIME.Value), model.ErrUnsupportedFormat)
	}
	return kind.MIME.Value, nil
}

// ScaledSize returns the analysis frame size for a source of srcW x srcH:
// width clamped to the source and both sides even.
func ScaledSize(srcW, srcH, width int) (int, int) {
	if width <= 0 {
		width = DefaultAnalysisWidth
	}
	if srcW <= 0 || srcH <= 0 {
		return width &^ 1, width &^ 1
	}
	if width > srcW {
		width = srcW
	}
	width &^= 1
	if width < 2 {
		width = 2
	}
	h := int(float64(srcH)*float64(width)/float64(srcW)/2+0.5) * 2
	if h < 2 {
		h = 2
	}
	return width, h
}

// Frames decodes every frame of the video at path, scaled to width, and calls
// fn with each one in order. The frame buffer is reused between calls, so fn
// must not retain it. It returns the number of frames delivered.
func (d *FFmpegDecoder) Frames(ctx context.Context, path string, info *Info, width int, fn func(scenes.Frame) error) (int, error) {
	w, h := ScaledSize(info.Width, info.Height, width)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", path,
		"-an", "-sn", "-dn",
		"-fps_mode", "passthrough",
		"-vf", fmt.Sprintf("scale=%d:%d", w, h),
		"-pix_fmt", "rgb24",
		"-f", "rawvideo",
		"pipe:1",
	}
	cmd := exec.CommandContext(runCtx, d.ffmpegPath, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("ffmpeg frames: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("ffmpeg frames: %w", err)
	}

	buf := make([]byte, w*h*3)
	count := 0
	var cbErr error
	for {
		if _, err := io.ReadFull(stdout, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				cbErr = fmt.Errorf("ffmpeg frames: %w", err)
			}
			break
		}
		if err := fn(scenes.Frame{Width: w, Height: h, Pix: buf}); err != nil {
			cbErr = err
			break
		}
		count++
	}
	if cbErr != nil {
		cancel()
		_ = cmd.Wait()
		return count, cbErr
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return count, ctx.Err()
		}
		return count, model.NewInputError("undecodable video", fmt.Errorf("%w: %s", model.ErrCorruptInput, strings.TrimSpace(stderr.String())))
	}
	if count == 0 {
		return 0, model.NewInputError("no decodable frames", model.ErrCorruptInput)
	}
	d.log.DebugContext(ctx, "decoded frames", "path", path, "frames", count, "width", w, "height", h)
	return count, nil
}

// ExtractFrame returns the frame at timestamp (seconds) encoded as JPEG.
func (d *FFmpegDecoder) ExtractFrame(ctx context.Context, path string, timestamp float64) ([]byte, error) {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-ss", fmt.Sprintf("%.6f", timestamp),
		"-i", path,
		"-frames:v", "1",
		"-q:v", "2",
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, d.ffmpegPath, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg extract frame at %.3fs: %w: %s", timestamp, err, strings.TrimSpace(stderr.String()))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("ffmpeg extract frame at %.3fs: no frame produced", timestamp)
	}
	return out, nil
}

// ExtractAudio writes the whole audio track of src to dest as mp3.
func (d *FFmpegDecoder) ExtractAudio(ctx context.Context, src, dest string) error {
	return d.run(ctx, "extract audio",
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", src,
		"-vn", "-sn", "-dn",
		"-c:a", "libmp3lame", "-q:a", "2",
		"-f", "mp3",
		dest)
}

// TrimAudio copies [start, end) of the audio file src into dest without
// re-encoding.
func (d *FFmpegDecoder) TrimAudio(ctx context.Context, src, dest string, start, end float64) error {
	if end <= start {
		return fmt.Errorf("trim audio: empty range %.3f-%.3f", start, end)
	}
	return d.run(ctx, "trim audio",
		"-y", "-hide_banner", "-loglevel", "error",
		"-ss", fmt.Sprintf("%.6f", start),
		"-to", fmt.Sprintf("%.6f", end),
		"-i", src,
		"-c", "copy",
		"-f", "mp3",
		dest)
}

func (d *FFmpegDecoder) run(ctx context.Context, op string, args ...string) error {
	cmd := exec.CommandContext(ctx, d.ffmpegPath, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg %s: %w: %s", op, err, strings.TrimSpace(string(output)))
	}
	return nil
}
