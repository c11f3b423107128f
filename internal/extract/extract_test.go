package extract

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ferret/internal/capability"
)

func TestKind(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"notes.txt", KindDocument},
		{"README.md", KindDocument},
		{"paper.PDF", KindDocument},
		{"report.docx", KindDocument},
		{"song.mp3", KindAudio},
		{"clip.mp4", KindVideo},
		{"photo.jpeg", KindImage},
		{"binary.exe", ""},
		{"noext", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Kind(tt.path), tt.path)
	}
}

func TestExtractPlainText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("meeting notes about budgets"), 0o644))

	e := New(capability.NewStubProvider(), capability.NewStubProvider())
	text, err := e.Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "meeting notes about budgets", text)
}

func TestExtractAudioUsesTranscriber(t *testing.T) {
	stub := capability.NewStubProvider()
	stub.TranscribeFunc = func(ctx context.Context, path string) (string, error) {
		return "transcribed speech", nil
	}

	e := New(stub, stub)
	text, err := e.Extract(context.Background(), "/media/talk.mp3")
	require.NoError(t, err)
	assert.Equal(t, "transcribed speech", text)
}

func TestExtractImageUsesDescriber(t *testing.T) {
	stub := capability.NewStubProvider()
	stub.DescribeFunc = func(ctx context.Context, path string) (string, error) {
		return "a whiteboard covered in diagrams", nil
	}

	e := New(stub, stub)
	text, err := e.Extract(context.Background(), "/media/board.png")
	require.NoError(t, err)
	assert.Equal(t, "a whiteboard covered in diagrams", text)
}

func TestExtractUnsupported(t *testing.T) {
	e := New(capability.NewStubProvider(), capability.NewStubProvider())
	_, err := e.Extract(context.Background(), "/bin/tool.exe")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestSupportedExtensionsCoversAllKinds(t *testing.T) {
	exts := SupportedExtensions()
	for _, ext := range []string{"txt", "pdf", "mp3", "mp4", "png"} {
		assert.True(t, exts[ext], ext)
	}
}
