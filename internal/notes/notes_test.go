package notes

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/storage"
)

type memStore struct {
	notes  []storage.SessionNote
	putErr error
}

func (m *memStore) SaveSessionNote(note storage.SessionNote) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.notes = append(m.notes, note)
	return nil
}

func (m *memStore) LatestSessionNote(studentID, month string) (storage.SessionNote, error) {
	for i := len(m.notes) - 1; i >= 0; i-- {
		n := m.notes[i]
		if n.StudentID == studentID && n.Month == month {
			return n, nil
		}
	}
	return storage.SessionNote{}, storage.ErrNotFound
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestImportTextFile(t *testing.T) {
	store := &memStore{}
	imp := NewImporter(store)

	path := writeTemp(t, "2025-07-15_蒼井ひなた.txt", "先生: 今日のミッションは？\n生徒: 配信企画の告知です！\n")
	note, err := imp.ImportFile("VS2024-001", "2025-07", path)
	if err != nil {
		t.Fatalf("ImportFile: %v", err)
	}
	if note.Title != "2025-07-15_蒼井ひなた" {
		t.Errorf("Title = %q", note.Title)
	}
	if note.Month != "2025-07" || note.StudentID != "VS2024-001" {
		t.Errorf("note = %+v", note)
	}
	if note.ID == "" || note.CreatedAt.IsZero() {
		t.Error("ID or CreatedAt not set")
	}

	got, err := imp.Transcript("VS2024-001", "2025-07")
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if got != "先生: 今日のミッションは？\n生徒: 配信企画の告知です！" {
		t.Errorf("Transcript = %q (expected trimmed content)", got)
	}
}

func TestImportEmptyFile(t *testing.T) {
	imp := NewImporter(&memStore{})
	path := writeTemp(t, "empty.txt", "   \n\t\n")
	if _, err := imp.ImportFile("VS2024-001", "2025-07", path); err == nil {
		t.Error("ImportFile accepted an empty document")
	}
}

func TestImportMissingFile(t *testing.T) {
	imp := NewImporter(&memStore{})
	if _, err := imp.ImportFile("VS2024-001", "2025-07", filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Error("ImportFile succeeded on a missing file")
	}
}

func TestImportStoreError(t *testing.T) {
	imp := NewImporter(&memStore{putErr: errors.New("disk gone")})
	path := writeTemp(t, "memo.txt", "content")
	if _, err := imp.ImportFile("VS2024-001", "2025-07", path); err == nil {
		t.Error("ImportFile swallowed the store error")
	}
}

func TestImportBrokenPDF(t *testing.T) {
	imp := NewImporter(&memStore{})
	path := writeTemp(t, "memo.pdf", "this is not a pdf")
	if _, err := imp.ImportFile("VS2024-001", "2025-07", path); err == nil {
		t.Error("ImportFile accepted a malformed pdf")
	}
}

func TestTranscriptLatestWins(t *testing.T) {
	store := &memStore{}
	imp := NewImporter(store)

	p1 := writeTemp(t, "first.txt", "first memo")
	p2 := writeTemp(t, "second.txt", "second memo")
	if _, err := imp.ImportFile("VS2024-001", "2025-07", p1); err != nil {
		t.Fatalf("ImportFile: %v", err)
	}
	if _, err := imp.ImportFile("VS2024-001", "2025-07", p2); err != nil {
		t.Fatalf("ImportFile: %v", err)
	}

	got, err := imp.Transcript("VS2024-001", "2025-07")
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if got != "second memo" {
		t.Errorf("Transcript = %q, want the newest memo", got)
	}
}

func TestTranscriptNotFound(t *testing.T) {
	imp := NewImporter(&memStore{})
	if _, err := imp.Transcript("VS2024-099", "2025-07"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
