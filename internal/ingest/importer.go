package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"github.com/kalambet/mealcart/internal/storage"
)

const (
	fetchTimeout = 30 * time.Second
	maxFetchSize = 4 << 20 // 4 MiB
	maxNoteChars = 20000
)

// NoteStore persists imported diet notes.
// Implemented by storage.Store.
type NoteStore interface {
	SaveDietNote(n storage.DietNote) error
}

// Importer turns diet documents (nutritionist PDFs, articles on the web)
// into plain-text diet notes that meal plan generation can cite.
type Importer struct {
	store      NoteStore
	httpClient *http.Client
	logger     *slog.Logger
}

// NewImporter creates an Importer backed by the given note store.
func NewImporter(store NoteStore) *Importer {
	return &Importer{
		store:      store,
		httpClient: &http.Client{Timeout: fetchTimeout},
		logger:     slog.Default(),
	}
}

// ImportText saves pasted text as a diet note verbatim.
func (im *Importer) ImportText(title, content string) (storage.DietNote, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return storage.DietNote{}, fmt.Errorf("note content is empty")
	}
	if title == "" {
		title = "Note " + time.Now().UTC().Format("2006-01-02 15:04")
	}
	return im.save(title, content, "text")
}

// ImportPDF extracts the text of a local PDF file and saves it as a diet
// note. An empty title defaults to the file name.
func (im *Importer) ImportPDF(path, title string) (storage.DietNote, error) {
	content, err := ExtractPDF(path)
	if err != nil {
		return storage.DietNote{}, err
	}
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return im.save(title, content, "file:"+filepath.Base(path))
}

// ExtractPDF returns the plain text of a local PDF file with whitespace
// normalized.
func ExtractPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
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

	content := collapseWhitespace(buf.String())
	if content == "" {
		return "", fmt.Errorf("pdf %s contains no extractable text", path)
	}
	return content, nil
}

// ImportURL fetches a web page, strips it to readable text and saves it as
// a diet note. An empty title defaults to the page's <title>.
func (im *Importer) ImportURL(ctx context.Context, rawURL, title string) (storage.DietNote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return storage.DietNote{}, fmt.Errorf("building request: %w", err)
	}

	resp, err := im.httpClient.Do(req)
	if err != nil {
		return storage.DietNote{}, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return storage.DietNote{}, fmt.Errorf("fetching %s: status %d", rawURL, resp.StatusCode)
	}

	content, pageTitle, err := extractHTML(io.LimitReader(resp.Body, maxFetchSize))
	if err != nil {
		return storage.DietNote{}, fmt.Errorf("parsing %s: %w", rawURL, err)
	}
	if content == "" {
		return storage.DietNote{}, fmt.Errorf("page %s contains no readable text", rawURL)
	}
	if title == "" {
		title = pageTitle
	}
	if title == "" {
		title = rawURL
	}

	return im.save(title, content, rawURL)
}

func (im *Importer) save(title, content, source string) (storage.DietNote, error) {
	if len(content) > maxNoteChars {
		// Ensure we don't split a multi-byte UTF-8 character.
		end := maxNoteChars
		for end > 0 && !utf8.RuneStart(content[end]) {
			end--
		}
		content = content[:end]
	}
	note := storage.DietNote{
		ID:        uuid.New().String(),
		Title:     title,
		Content:   content,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
	if err := im.store.SaveDietNote(note); err != nil {
		return storage.DietNote{}, fmt.Errorf("saving diet note: %w", err)
	}
	im.logger.Info("diet note imported", "title", title, "source", source, "chars", len(content))
	return note, nil
}

// extractHTML returns the visible text and the page title of an HTML
// document. Script, style and head content is skipped.
func extractHTML(r io.Reader) (content, title string, err error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", "", err
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "head":
				if n.Data == "head" {
					if t := findTitle(n); t != "" {
						title = t
					}
				}
				return
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return collapseWhitespace(b.String()), collapseWhitespace(title), nil
}

func findTitle(head *html.Node) string {
	for c := head.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "title" && c.FirstChild != nil {
			return c.FirstChild.Data
		}
	}
	return ""
}

// collapseWhitespace squeezes runs of whitespace into single spaces and
// trims the ends.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
