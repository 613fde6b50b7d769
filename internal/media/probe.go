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

package media

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// probeResult is the subset of `ffprobe -show_format -show_streams -of json`
// the pipeline reads.
type probeResult struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	Index        int    `json:"index"`
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
	RFrameRate   string `json:"r_frame_rate"`
	NbFrames     string `json:"nb_frames"`
	Duration     string `json:"duration"`
}

type probeFormat struct {
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	FormatName string `json:"format_name"`
}

// Info is what the pipeline needs to know about a decodable video.
type Info struct {
	MIMEType   string
	Format     string
	Duration   float64
	FrameRate  float64
	FrameCount int
	Width      int
	Height     int
	HasAudio   bool
}

func parseProbe(raw []byte) (*Info, error) {
	var res probeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("ffprobe parse: %w", err)
	}

	var video *probeStream
	info := &Info{Format: res.Format.FormatName}
	for i := range res.Streams {
		s := &res.Streams[i]
		switch strings.ToLower(s.CodecType) {
		case "video":
			if video == nil {
				video = s
			}
		case "audio":
			info.HasAudio = true
		}
	}
	if video == nil {
		return nil, fmt.Errorf("no video stream")
	}

	info.Width, info.Height = video.Width, video.Height
	info.FrameRate = parseRate(video.AvgFrameRate)
	if info.FrameRate <= 0 {
		info.FrameRate = parseRate(video.RFrameRate)
	}
	info.Duration = parseFloat(res.Format.Duration)
	if info.Duration <= 0 {
		info.Duration = parseFloat(video.Duration)
	}
	if n, err := strconv.Atoi(strings.TrimSpace(video.NbFrames)); err == nil && n > 0 {
		info.FrameCount = n
	} else if info.FrameRate > 0 && info.Duration > 0 {
		info.FrameCount = int(math.Ceil(info.Duration * info.FrameRate))
	}
	return info, nil
}

// parseRate reads ffprobe's "num/den" rational form.
func parseRate(v string) float64 {
	num, den, ok := strings.Cut(strings.TrimSpace(v), "/")
	if !ok {
		return parseFloat(num)
	}
	n, d := parseFloat(num), parseFloat(den)
	if d == 0 || math.IsNaN(n) || math.IsNaN(d) {
		return 0
	}
	return n / d
}

func parseFloat(v string) float64 {
	cleaned := strings.TrimSpace(v)
	if cleaned == "" || cleaned == "N/A" {
		return 0
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
