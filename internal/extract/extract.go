package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"ferret/internal/capability"
)

// ErrUnsupported indicates the file format has no extraction route. The
// caller marks the file failed and moves on; it is not job-fatal.
var ErrUnsupported = errors.New("unsupported file format")

// Kinds of indexable content, routed to different extraction paths.
const (
	KindDocument = "document"
	KindAudio    = "audio"
	KindVideo    = "video"
	KindImage    = "image"
)

var kindByExt = map[string]string{
	"txt": KindDocument, "md": KindDocument, "pdf": KindDocument, "docx": KindDocument,
	"mp3": KindAudio, "wav": KindAudio, "m4a": KindAudio, "flac": KindAudio, "ogg": KindAudio,
	"mp4": KindVideo, "mov": KindVideo, "mkv": KindVideo, "avi": KindVideo, "webm": KindVideo,
	"png": KindImage, "jpg": KindImage, "jpeg": KindImage, "gif": KindImage, "webp": KindImage, "bmp": KindImage,
}

// Kind classifies a path by extension, or "" if the format is unsupported.
func Kind(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	return kindByExt[ext]
}

// SupportedExtensions returns the set of extensions the extractor handles,
// for the walker's extension filter.
func SupportedExtensions() map[string]bool {
	exts := make(map[string]bool, len(kindByExt))
	for ext := range kindByExt {
		exts[ext] = true
	}
	return exts
}

// ContentType returns the mime type for a path, falling back to a generic
// type per kind when the platform mime table has no entry.
func ContentType(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		if i := strings.IndexByte(ct, ';'); i >= 0 {
			ct = ct[:i]
		}
		return ct
	}
	switch Kind(path) {
	case KindAudio:
		return "audio/unknown"
	case KindVideo:
		return "video/unknown"
	case KindImage:
		return "image/unknown"
	default:
		return "application/octet-stream"
	}
}

// Extractor converts a file into raw text. Documents are parsed directly;
// audio, video, and images go through the external model capabilities.
type Extractor struct {
	transcriber capability.Transcriber
	describer   capability.Describer
}

// New creates an extractor using the given capabilities for media files.
func New(transcriber capability.Transcriber, describer capability.Describer) *Extractor {
	return &Extractor{transcriber: transcriber, describer: describer}
}

// Extract returns the text content of the file at path.
func (e *Extractor) Extract(ctx context.Context, path string) (string, error) {
	switch Kind(path) {
	case KindDocument:
		return extractDocument(path)
	case KindAudio, KindVideo:
		text, err := e.transcriber.Transcribe(ctx, path)
		if err != nil {
			return "", fmt.Errorf("transcribe %s: %w", path, err)
		}
		return text, nil
	case KindImage:
		text, err := e.describer.Describe(ctx, path)
		if err != nil {
			return "", fmt.Errorf("describe %s: %w", path, err)
		}
		return text, nil
	default:
		return "", fmt.Errorf("%s: %w", path, ErrUnsupported)
	}
}

func extractDocument(path string) (string, error) {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "txt", "md":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		return string(data), nil
	case "pdf":
		return extractPDF(path)
	case "docx":
		return extractDocx(path)
	}
	return "", fmt.Errorf("%s: %w", path, ErrUnsupported)
}

func extractPDF(path string) (string, error) {
	f, rdr, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	r, err := rdr.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text %s: %w", path, err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", fmt.Errorf("read pdf buffer %s: %w", path, err)
	}
	return buf.String(), nil
}

// extractDocx pulls the character data out of word/document.xml. Paragraph
// boundaries become newlines so chunk offsets stay meaningful.
func extractDocx(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open docx %s: %w", path, err)
	}
	defer zr.Close()

	var doc io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc, err = f.Open()
			if err != nil {
				return "", fmt.Errorf("open document.xml in %s: %w", path, err)
			}
			break
		}
	}
	if doc == nil {
		return "", fmt.Errorf("%s: no document.xml: %w", path, ErrUnsupported)
	}
	defer doc.Close()

	var b strings.Builder
	dec := xml.NewDecoder(doc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml in %s: %w", path, err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.EndElement:
			if t.Name.Local == "p" {
				b.WriteByte('\n')
			}
		}
	}
	return b.String(), nil
}
