package dataset

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Entry is one audio file listed in a batch manifest.
type Entry struct {
	Row  int
	Path string
	// Label is an optional caller reference carried through to the output.
	Label string
}

var audioExts = map[string]bool{
	".mp3": true, ".wav": true, ".m4a": true, ".aac": true,
	".flac": true, ".ogg": true, ".opus": true, ".webm": true, ".mp4": true,
}

// LoadManifest reads the first sheet of an xlsx manifest and returns the
// audio files it lists. The path column is found by header name ("file",
// "path" or "audio"); relative paths resolve against the manifest's
// directory. Rows whose path has no audio extension are skipped.
func LoadManifest(path string) ([]Entry, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, fmt.Errorf("no data rows")
	}

	pathIdx, labelIdx := -1, -1
	for i, h := range rows[0] {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case pathIdx == -1 && (strings.Contains(l, "file") || strings.Contains(l, "path") || strings.Contains(l, "audio")):
			pathIdx = i
		case labelIdx == -1 && (strings.Contains(l, "id") || strings.Contains(l, "label") || strings.Contains(l, "name")):
			labelIdx = i
		}
	}
	if pathIdx == -1 {
		return nil, fmt.Errorf("no file/path/audio column in header %v", rows[0])
	}

	base := filepath.Dir(path)
	var out []Entry
	for i, r := range rows[1:] {
		if pathIdx >= len(r) {
			continue
		}
		p := strings.TrimSpace(r[pathIdx])
		if !audioExts[strings.ToLower(filepath.Ext(p))] {
			continue
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		e := Entry{Row: i + 2, Path: p}
		if labelIdx >= 0 && labelIdx < len(r) {
			e.Label = strings.TrimSpace(r[labelIdx])
		}
		out = append(out, e)
	}
	return out, nil
}
