// Package library implements the Library Index collaborator interface
//: directory discovery, metadata extraction, and the
// library.json/history.json/library.bin persistence formats. The
// core does not trust this package's output blindly — load_audio
// re-validates any path/AudioAsset it is handed against the Decoder
// (internal/decode).
package library

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/codynhanpham/nidaq-audioplayer/internal/decode"
	"github.com/codynhanpham/nidaq-audioplayer/internal/logging"
	"github.com/codynhanpham/nidaq-audioplayer/internal/model"
)

// HistoryCap is the maximum number of entries history.json retains.
const HistoryCap = 50

var recognizedExt = map[string]bool{".wav": true, ".flac": true, ".mp3": true, ".ogg": true}

var logger = logging.Component("library-index")

// DirStat is one directory's audio file count, as surfaced in library.json.
type DirStat struct {
	Dir       string `json:"dir"`
	FileCount int    `json:"fileCount"`
}

// DiscoverResult is the Discover operation's return value.
type DiscoverResult struct {
	Paths []string  `json:"paths"`
	Stats []DirStat `json:"stats"`
}

// Discover walks each root up to recursiveLevel directories deep (0 means
// the root directory only, no descent) collecting recognized audio files
// and per-directory counts.
func Discover(roots []string, recursiveLevel int) (DiscoverResult, error) {
	if recursiveLevel < 0 {
		recursiveLevel = 0
	}
	counts := make(map[string]int)
	var paths []string

	for _, root := range roots {
		rootDepth := strings.Count(filepath.Clean(root), string(filepath.Separator))
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("skipping unreadable path during discovery")
				return nil
			}
			depth := strings.Count(filepath.Clean(path), string(filepath.Separator)) - rootDepth
			if d.IsDir() {
				if path != root && depth > recursiveLevel {
					return filepath.SkipDir
				}
				return nil
			}
			if !recognizedExt[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			paths = append(paths, path)
			counts[filepath.Dir(path)]++
			return nil
		})
		if err != nil {
			return DiscoverResult{}, fmt.Errorf("discover %q: %w", root, err)
		}
	}

	sort.Strings(paths)
	stats := make([]DirStat, 0, len(counts))
	for dir, n := range counts {
		stats = append(stats, DirStat{Dir: dir, FileCount: n})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Dir < stats[j].Dir })

	return DiscoverResult{Paths: paths, Stats: stats}, nil
}

// Metadata decodes path's header (and, for WAV, an IART artist tag if
// present) into an AudioAsset. Chapter and cover-art extraction beyond what
// the Decoder itself exposes is a GUI/composer-side concern not implemented
// here (no pack dependency specializes in container tag parsing).
func Metadata(path string) (model.AudioAsset, error) {
	info, err := os.Stat(path)
	if err != nil {
		return model.AudioAsset{}, fmt.Errorf("stat %q: %w", path, err)
	}

	dec, err := decode.Open(path)
	if err != nil {
		return model.AudioAsset{}, err
	}
	defer dec.Close()

	total := dec.TotalSamples()
	sampleRate := dec.SampleRateHz()
	var duration float64
	if sampleRate > 0 {
		duration = float64(total) / float64(sampleRate)
	}

	asset := model.AudioAsset{
		Path:         path,
		SampleRateHz: sampleRate,
		BitDepth:     dec.BitDepth(),
		ChannelCount: dec.ChannelCount(),
		DurationS:    duration,
		SizeBytes:    info.Size(),
		TotalSamples: total,
	}
	if strings.ToLower(filepath.Ext(path)) == ".wav" {
		if artist, ok := readWAVArtist(path); ok {
			asset.Artist = artist
		}
	}
	return asset, nil
}

// libraryFile mirrors the persisted library.json shape.
type libraryFile struct {
	Library struct {
		AudioFiles   []string  `json:"audioFiles"`
		LibraryStats []DirStat `json:"libraryStats"`
	} `json:"library"`
	ScanRecursiveLevel int    `json:"scanRecursiveLevel"`
	LastLibbinHash     string `json:"lastLibbinHash,omitempty"`
}

// SaveLibraryJSON writes library.json.
func SaveLibraryJSON(path string, result DiscoverResult, recursiveLevel int, libbinHash string) error {
	var f libraryFile
	f.Library.AudioFiles = result.Paths
	f.Library.LibraryStats = result.Stats
	f.ScanRecursiveLevel = recursiveLevel
	f.LastLibbinHash = libbinHash

	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// LoadLibraryJSON reads library.json, returning the empty zero value if the
// file does not exist.
func LoadLibraryJSON(path string) (DiscoverResult, int, string, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DiscoverResult{}, 0, "", nil
	}
	if err != nil {
		return DiscoverResult{}, 0, "", err
	}
	var f libraryFile
	if err := json.Unmarshal(b, &f); err != nil {
		return DiscoverResult{}, 0, "", err
	}
	return DiscoverResult{Paths: f.Library.AudioFiles, Stats: f.Library.LibraryStats}, f.ScanRecursiveLevel, f.LastLibbinHash, nil
}

// historyFile mirrors history.json.
type historyFile struct {
	History []model.AudioAsset `json:"history"`
}

// AppendHistory loads path (if present), removes any existing entry for
// asset.Path, appends asset as the most recent, caps the list at
// HistoryCap (dropping the oldest), and writes the result back.
func AppendHistory(path string, asset model.AudioAsset) error {
	var f historyFile
	b, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// start empty
	case err != nil:
		return err
	default:
		if err := json.Unmarshal(b, &f); err != nil {
			return err
		}
	}

	deduped := f.History[:0]
	for _, a := range f.History {
		if a.Path != asset.Path {
			deduped = append(deduped, a)
		}
	}
	deduped = append(deduped, asset)
	if len(deduped) > HistoryCap {
		deduped = deduped[len(deduped)-HistoryCap:]
	}
	f.History = deduped

	out, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

// SaveLibraryBin gob-encodes assets and writes path only if the content
// hash differs from previousHash, returning the new hash either way (spec
// §6: "its content hash is compared against lastLibbinHash to decide
// rewrites").
func SaveLibraryBin(path string, assets []model.AudioAsset, previousHash string) (hash string, wrote bool, err error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(assets); err != nil {
		return "", false, err
	}
	hash = HashBytes(buf.Bytes())
	if hash == previousHash {
		return hash, false, nil
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", false, err
	}
	return hash, true, nil
}

// LoadLibraryBin decodes library.bin, returning its content hash alongside
// the decoded assets.
func LoadLibraryBin(path string) ([]model.AudioAsset, string, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	var assets []model.AudioAsset
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&assets); err != nil {
		return nil, "", err
	}
	return assets, HashBytes(b), nil
}

// HashBytes returns the hex-encoded sha256 digest of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
