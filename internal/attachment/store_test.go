package attachment

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/membership-backend/internal/domain"
	"github.com/spec-kit/membership-backend/internal/storage"
	apperrors "github.com/spec-kit/membership-backend/pkg/util/errorutil"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

type memoryBlobs struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	failAfter int
	writes    int
	deleteErr error
}

func newMemoryBlobs() *memoryBlobs {
	return &memoryBlobs{blobs: map[string][]byte{}, failAfter: -1}
}

func (m *memoryBlobs) Write(_ context.Context, path string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAfter >= 0 && m.writes >= m.failAfter {
		return "", errors.New("disk full")
	}
	m.writes++
	m.blobs[path] = data
	return path, nil
}

func (m *memoryBlobs) Delete(_ context.Context, location string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.blobs, location)
	return nil
}

func (m *memoryBlobs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}

func textFile(name string) File {
	data := []byte("hello world")
	return File{Name: name, MimeType: "text/plain", Size: int64(len(data)), Data: data}
}

func countFiles(t *testing.T, root string) int {
	t.Helper()
	n := 0
	require.NoError(t, filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	}))
	return n
}

func TestStoreManyRejectsBatchWithOversizedFile(t *testing.T) {
	root := t.TempDir()
	disk, err := storage.NewDiskStore(root)
	require.NoError(t, err)
	store := NewStore(disk, Options{}, zap.NewNop())

	oversized := File{Name: "big.pdf", MimeType: "application/pdf", Size: DefaultMaxFileSize + 1}
	files := []File{textFile("a.txt"), textFile("b.txt"), textFile("c.txt"), oversized}

	atts, err := store.StoreMany(context.Background(), files)
	assert.Nil(t, atts)
	assert.Equal(t, apperrors.CodeInvalidFile, apperrors.CodeOf(err))
	assert.Zero(t, countFiles(t, root))
}

func TestStoreManyTooManyFiles(t *testing.T) {
	blobs := newMemoryBlobs()
	store := NewStore(blobs, Options{}, zap.NewNop())

	files := make([]File, 6)
	for i := range files {
		files[i] = textFile("f.txt")
	}

	_, err := store.StoreMany(context.Background(), files)
	assert.Equal(t, apperrors.CodeTooManyFiles, apperrors.CodeOf(err))
	assert.Zero(t, blobs.writes)
}

func TestStoreManyDiscardsWrittenBlobsOnWriteFailure(t *testing.T) {
	blobs := newMemoryBlobs()
	blobs.failAfter = 2
	store := NewStore(blobs, Options{}, zap.NewNop())

	_, err := store.StoreMany(context.Background(), []File{textFile("a.txt"), textFile("b.txt"), textFile("c.txt")})
	assert.Equal(t, apperrors.CodeStorage, apperrors.CodeOf(err))
	assert.Zero(t, blobs.count())
}

func TestStoreManyWritesUnderTicketsPrefix(t *testing.T) {
	blobs := newMemoryBlobs()
	store := NewStore(blobs, Options{}, zap.NewNop())

	atts, err := store.StoreMany(context.Background(), []File{textFile("my notes (1).txt")})
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "my_notes__1_.txt", atts[0].Filename)
	assert.True(t, strings.HasPrefix(atts[0].StorageLocation, "tickets/"))
	assert.True(t, strings.HasSuffix(atts[0].StorageLocation, "-my_notes__1_.txt"))
	assert.Equal(t, "text/plain", atts[0].MimeType)
	assert.Equal(t, int64(11), atts[0].Size)
}

func TestStoreSniffsMissingMimeType(t *testing.T) {
	store := NewStore(newMemoryBlobs(), Options{}, zap.NewNop())

	att, err := store.Store(context.Background(), File{Name: "shot.png", Data: pngHeader})
	require.NoError(t, err)
	assert.Equal(t, "image/png", att.MimeType)
}

func TestStoreRejectsInvalidFiles(t *testing.T) {
	store := NewStore(newMemoryBlobs(), Options{}, zap.NewNop())

	cases := map[string]File{
		"extension":       {Name: "run.exe", MimeType: "text/plain", Data: []byte("x")},
		"mime":            {Name: "notes.txt", MimeType: "application/zip", Data: []byte("x")},
		"spoofed image":   {Name: "cat.png", MimeType: "image/png", Data: []byte("not really a png")},
		"sniffed unknown": {Name: "blob.pdf", Data: []byte{0x00, 0x01, 0x02}},
	}
	for name, file := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := store.Store(context.Background(), file)
			assert.Equal(t, apperrors.CodeInvalidFile, apperrors.CodeOf(err))
		})
	}
}

func TestDiscardLogsFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	blobs := newMemoryBlobs()
	blobs.deleteErr = errors.New("permission denied")
	store := NewStore(blobs, Options{}, zap.New(core))

	store.Discard(context.Background(), []domain.Attachment{
		{Filename: "a.txt", StorageLocation: "tickets/a.txt"},
		{Filename: "b.txt", StorageLocation: "tickets/b.txt"},
	})

	assert.Equal(t, 2, logs.FilterMessage("failed to discard attachment").Len())
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "report_2024_.pdf", SanitizeFilename("report 2024!.pdf"))
	assert.Equal(t, "passwd", SanitizeFilename("../../etc/passwd"))
	assert.Equal(t, "a-b.c", SanitizeFilename("a-b.c"))
}
