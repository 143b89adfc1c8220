// Package notes imports talk-memo documents into the session_notes table.
// Staff export one memo per training session, either as plain text or as
// a PDF dump of the shared document; the imported transcript feeds the
// qualitative analysis.
package notes

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/storage"
)

// maxNoteBytes caps a single imported document.
const maxNoteBytes = 4 << 20

// Store is the subset of the storage layer the importer needs.
type Store interface {
	SaveSessionNote(note storage.SessionNote) error
	LatestSessionNote(studentID, month string) (storage.SessionNote, error)
}

// Importer reads memo files and persists them as session notes.
type Importer struct {
	store  Store
	logger *slog.Logger
}

// NewImporter creates an Importer over the given store.
func NewImporter(store Store) *Importer {
	return &Importer{store: store, logger: slog.Default()}
}

// ImportFile reads a memo file and saves it for (studentID, month). The
// format is picked by extension: .pdf goes through text extraction,
// anything else is read verbatim.
func (i *Importer) ImportFile(studentID, month, path string) (storage.SessionNote, error) {
	var content string
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		content, err = extractPDFText(path)
	default:
		content, err = readTextFile(path)
	}
	if err != nil {
		return storage.SessionNote{}, fmt.Errorf("importing %s: %w", path, err)
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return storage.SessionNote{}, fmt.Errorf("importing %s: document is empty", path)
	}

	note := storage.SessionNote{
		ID:        uuid.NewString(),
		StudentID: studentID,
		Month:     month,
		Title:     strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := i.store.SaveSessionNote(note); err != nil {
		return storage.SessionNote{}, fmt.Errorf("saving note for %s: %w", studentID, err)
	}

	i.logger.Info("session note imported",
		"student_id", studentID, "month", month, "title", note.Title, "bytes", len(content))
	return note, nil
}

// Transcript returns the newest imported memo text for (studentID, month).
func (i *Importer) Transcript(studentID, month string) (string, error) {
	note, err := i.store.LatestSessionNote(studentID, month)
	if err != nil {
		return "", err
	}
	return note.Content, nil
}

func readTextFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Size() > maxNoteBytes {
		return "", fmt.Errorf("document too large: %d bytes", info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// extractPDFText pulls the plain text out of a PDF export.
func extractPDFText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return buf.String(), nil
}
