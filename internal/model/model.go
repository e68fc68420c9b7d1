// Package model holds the data types shared across the playback engine:
// AudioAsset, DeviceDescriptor, ChannelSpec and LoopMode. The PlaybackJob
// itself is transport.Job.
package model

import "fmt"

// Chapter is a named offset within an asset, parsed from container metadata.
type Chapter struct {
	TimestampS  float64 `json:"timestamp_s"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	StartSample int64   `json:"start_sample,omitempty"`
}

// AudioAsset describes a decodable audio file. Immutable once produced by
// the metadata extractor.
type AudioAsset struct {
	Path          string    `json:"path"`
	SampleRateHz  int       `json:"sample_rate_hz"`
	BitDepth      int       `json:"bit_depth"`
	ChannelCount  int       `json:"channel_count"`
	DurationS     float64   `json:"duration_s"`
	SizeBytes     int64     `json:"size_bytes"`
	Artist        string    `json:"artist,omitempty"`
	Thumbnail     []byte    `json:"thumbnail,omitempty"`
	Chapters      []Chapter `json:"chapters,omitempty"`
	TotalSamples  int64     `json:"-"` // decoder-reported frame count; DurationS is derived from it
}

// Validate checks duration consistency and monotone, in-range chapter
// timestamps.
func (a AudioAsset) Validate() error {
	if a.SampleRateHz <= 0 {
		return fmt.Errorf("audio asset %q: sample_rate_hz must be positive", a.Path)
	}
	if a.ChannelCount <= 0 {
		return fmt.Errorf("audio asset %q: channel_count must be positive", a.Path)
	}
	expected := float64(a.TotalSamples) / float64(a.SampleRateHz)
	oneFrame := 1.0 / float64(a.SampleRateHz)
	if a.TotalSamples > 0 && (a.DurationS < expected-oneFrame || a.DurationS > expected+oneFrame) {
		return fmt.Errorf("audio asset %q: duration_s %.6f inconsistent with total_samples/sample_rate_hz %.6f", a.Path, a.DurationS, expected)
	}
	last := -1.0
	for i, c := range a.Chapters {
		if c.TimestampS < last {
			return fmt.Errorf("audio asset %q: chapter %d timestamp %.3f decreases from previous %.3f", a.Path, i, c.TimestampS, last)
		}
		if c.TimestampS < 0 || c.TimestampS > a.DurationS {
			return fmt.Errorf("audio asset %q: chapter %d timestamp %.3f out of [0, %.3f]", a.Path, i, c.TimestampS, a.DurationS)
		}
		last = c.TimestampS
	}
	return nil
}

// DeviceDescriptor describes one enumerated DAQ device.
type DeviceDescriptor struct {
	Name            string `json:"name"`
	ProductType     string `json:"product_type"`
	ProductCategory string `json:"product_category"`
	MaxAORateHz     int    `json:"max_ao_rate_hz"`
	AOLineCount     int    `json:"ao_line_count"`
	DOLineCount     int    `json:"do_line_count"`
}

// ChannelSpec names the AO/DO/AI lines a job will drive.
type ChannelSpec struct {
	AOChannels []string `json:"ao_channels"`
	DOChannels []string `json:"do_channels,omitempty"`
	AIChannels []string `json:"ai_channels,omitempty"` // reserved, validated-but-inert
}

// Validate checks uniqueness within each line list.
func (c ChannelSpec) Validate() error {
	if err := uniqueNonEmpty("ao_channels", c.AOChannels); err != nil {
		return err
	}
	if err := uniqueNonEmpty("do_channels", c.DOChannels); err != nil {
		return err
	}
	if err := uniqueNonEmpty("ai_channels", c.AIChannels); err != nil {
		return err
	}
	return nil
}

func uniqueNonEmpty(field string, names []string) error {
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n == "" {
			return fmt.Errorf("%s: empty channel name", field)
		}
		if _, ok := seen[n]; ok {
			return fmt.Errorf("%s: duplicate channel name %q", field, n)
		}
		seen[n] = struct{}{}
	}
	return nil
}

// LoopMode mirrors the GUI's loop setting. The engine only implements
// LoopNone; LoopAll/LoopOne are accepted and echoed back.
type LoopMode string

const (
	LoopNone LoopMode = "none"
	LoopAll  LoopMode = "all"
	LoopOne  LoopMode = "one"
)
