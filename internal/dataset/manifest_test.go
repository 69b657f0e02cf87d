package dataset

import (
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

func writeManifest(t *testing.T, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	path := filepath.Join(t.TempDir(), "manifest.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, [][]any{
		{"Call ID", "Audio File"},
		{"c-1", "calls/one.mp3"},
		{"c-2", "notes.txt"},
		{"c-3", "/abs/three.WAV"},
		{"c-4"},
	})

	got, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("entries = %+v, want 2", got)
	}
	want := filepath.Join(filepath.Dir(path), "calls/one.mp3")
	if got[0].Path != want || got[0].Label != "c-1" || got[0].Row != 2 {
		t.Fatalf("entry 0 = %+v, want path %s", got[0], want)
	}
	if got[1].Path != "/abs/three.WAV" || got[1].Row != 4 {
		t.Fatalf("entry 1 = %+v", got[1])
	}
}

func TestLoadManifestNeedsPathColumn(t *testing.T) {
	path := writeManifest(t, [][]any{{"Call ID", "City"}, {"c-1", "Pune"}})
	if _, err := LoadManifest(path); err == nil {
		t.Fatal("expected error for manifest without a path column")
	}
}
