package ingest

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"fundsync/internal/asset"
	apperrors "fundsync/internal/errors"
	"fundsync/internal/logger"
)

// FileShape identifies which of the two fixed export formats a file holds.
type FileShape string

const (
	ShapeOHLCV FileShape = "ohlcv"
	ShapeTrade FileShape = "trade"
)

// FileType is the CLI-facing record-shape filter.
type FileType string

const (
	FileTypeOHLCV FileType = "ohlcv"
	FileTypeTrade FileType = "trade"
	FileTypeBoth  FileType = "both"
)

// ParseFileType parses the --file-type flag value.
func ParseFileType(s string) (FileType, error) {
	switch FileType(strings.ToLower(s)) {
	case FileTypeOHLCV:
		return FileTypeOHLCV, nil
	case FileTypeTrade:
		return FileTypeTrade, nil
	case FileTypeBoth:
		return FileTypeBoth, nil
	}
	return "", apperrors.Newf(apperrors.ErrCodeInvalidInput, "unknown file type: %s", s)
}

func (t FileType) matches(shape FileShape) bool {
	switch t {
	case FileTypeBoth, "":
		return true
	case FileTypeOHLCV:
		return shape == ShapeOHLCV
	case FileTypeTrade:
		return shape == ShapeTrade
	}
	return false
}

// SourceFile is one export file selected for ingestion. OHLCV files are named
// {PAIR}_{INTERVAL_MINUTES}, trade files {PAIR}; an optional .csv extension
// is accepted on either form.
type SourceFile struct {
	Path            string
	Pair            Pair
	Shape           FileShape
	IntervalMinutes int
}

// Filter selects which files a scan admits. Non-matching files are skipped
// before they are ever opened.
type Filter struct {
	// Tier restricts to instruments of one tier; empty admits every tier.
	Tier asset.Tier
	// FileType restricts to one record shape; empty or FileTypeBoth admits both.
	FileType FileType
	// Intervals restricts OHLCV files to the listed interval minutes; empty
	// admits every interval. Trade files are unaffected.
	Intervals map[int]struct{}
}

// ParseIntervals parses the --intervals flag value, a comma-separated list of
// minutes. An empty value means no interval filter.
func ParseIntervals(s string) (map[int]struct{}, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	intervals := make(map[int]struct{})
	for _, part := range strings.Split(s, ",") {
		minutes, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || minutes <= 0 {
			return nil, apperrors.Newf(apperrors.ErrCodeInvalidInput, "invalid interval: %q", part)
		}
		intervals[minutes] = struct{}{}
	}
	return intervals, nil
}

// Scan lists the export files under dataDir that pass the filter, sorted by
// filename. Files with unrecognized names are logged and skipped; filtered
// files cost no I/O beyond the directory listing.
func Scan(dataDir string, filter Filter) ([]SourceFile, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "failed to read data directory")
	}

	var files []SourceFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		file, err := classify(dataDir, entry.Name())
		if err != nil {
			logger.Warnf("skipping unrecognized file %s: %v", entry.Name(), err)
			continue
		}

		if !filter.FileType.matches(file.Shape) {
			continue
		}
		if file.Shape == ShapeOHLCV && len(filter.Intervals) > 0 {
			if _, ok := filter.Intervals[file.IntervalMinutes]; !ok {
				continue
			}
		}
		if filter.Tier != "" && asset.ClassifyTier(file.Pair.CanonicalBase()) != filter.Tier {
			continue
		}

		files = append(files, file)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// classify derives the pair, shape and interval from a filename.
func classify(dataDir, name string) (SourceFile, error) {
	stem := name
	if ext := filepath.Ext(name); ext != "" {
		if !strings.EqualFold(ext, ".csv") {
			return SourceFile{}, apperrors.Newf(apperrors.ErrCodeInvalidInput,
				"unrecognized extension %q", ext)
		}
		stem = strings.TrimSuffix(name, ext)
	}

	file := SourceFile{Path: filepath.Join(dataDir, name), Shape: ShapeTrade}

	if i := strings.LastIndexByte(stem, '_'); i >= 0 {
		minutes, err := strconv.Atoi(stem[i+1:])
		if err != nil || minutes <= 0 {
			return SourceFile{}, apperrors.Newf(apperrors.ErrCodeInvalidInput,
				"invalid interval suffix %q", stem[i+1:])
		}
		file.Shape = ShapeOHLCV
		file.IntervalMinutes = minutes
		stem = stem[:i]
	}

	pair, err := ParsePair(stem)
	if err != nil {
		return SourceFile{}, err
	}
	file.Pair = pair
	return file, nil
}
