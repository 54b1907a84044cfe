package attachment

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/membership-backend/internal/domain"
	"github.com/spec-kit/membership-backend/internal/storage"
	apperrors "github.com/spec-kit/membership-backend/pkg/util/errorutil"
)

const (
	DefaultMaxFileSize = 5 * 1024 * 1024
	DefaultMaxFiles    = 5
	maxFilenameLength  = 255
	pathPrefix         = "tickets"
)

var allowedExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".pdf": {}, ".doc": {}, ".docx": {}, ".txt": {},
}

var allowedMimeTypes = map[string]struct{}{
	"image/jpeg":         {},
	"image/png":          {},
	"image/gif":          {},
	"application/pdf":    {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"text/plain": {},
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

// File is an uploaded file as received from the transport layer.
type File struct {
	Name     string
	MimeType string
	Size     int64
	Data     []byte
}

// Options bounds what the store accepts.
type Options struct {
	MaxFileSize int64
	MaxFiles    int
}

// Store validates uploads and persists them to a BlobStore.
type Store struct {
	blobs  storage.BlobStore
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// NewStore wires a Store. Zero options fall back to the defaults.
func NewStore(blobs storage.BlobStore, opts Options, logger *zap.Logger) *Store {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = DefaultMaxFiles
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{blobs: blobs, opts: opts, logger: logger, now: time.Now}
}

// MaxFiles is the configured batch ceiling.
func (s *Store) MaxFiles() int {
	return s.opts.MaxFiles
}

type prepared struct {
	file     File
	safeName string
	mimeType string
	size     int64
}

// Store validates a single file and writes it.
func (s *Store) Store(ctx context.Context, file File) (domain.Attachment, error) {
	p, err := s.validate(file)
	if err != nil {
		return domain.Attachment{}, err
	}
	return s.write(ctx, p)
}

// StoreMany validates every file before writing any. If a write fails, blobs already written
// for the batch are discarded before the error is returned.
func (s *Store) StoreMany(ctx context.Context, files []File) ([]domain.Attachment, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if len(files) > s.opts.MaxFiles {
		return nil, apperrors.NewTooManyFiles(s.opts.MaxFiles)
	}

	batch := make([]prepared, 0, len(files))
	for _, f := range files {
		p, err := s.validate(f)
		if err != nil {
			return nil, err
		}
		batch = append(batch, p)
	}

	stored := make([]domain.Attachment, 0, len(batch))
	for _, p := range batch {
		att, err := s.write(ctx, p)
		if err != nil {
			s.Discard(ctx, stored)
			return nil, err
		}
		stored = append(stored, att)
	}
	return stored, nil
}

// Discard deletes the blobs behind attachments. Failures are logged and never returned, so it
// is safe to call from cleanup paths.
func (s *Store) Discard(ctx context.Context, attachments []domain.Attachment) {
	for _, att := range attachments {
		if att.StorageLocation == "" {
			continue
		}
		if err := s.blobs.Delete(ctx, att.StorageLocation); err != nil {
			s.logger.Warn("failed to discard attachment",
				zap.String("location", att.StorageLocation),
				zap.String("filename", att.Filename),
				zap.Error(err))
		}
	}
}

func (s *Store) validate(file File) (prepared, error) {
	size := file.Size
	if n := int64(len(file.Data)); n > size {
		size = n
	}
	details := map[string]any{"filename": file.Name}

	if size > s.opts.MaxFileSize {
		details["max_bytes"] = s.opts.MaxFileSize
		return prepared{}, apperrors.NewInvalidFile("file too large", details)
	}

	ext := strings.ToLower(filepath.Ext(file.Name))
	if _, ok := allowedExtensions[ext]; !ok {
		return prepared{}, apperrors.NewInvalidFile("file extension not allowed", details)
	}

	declared := normalizeMime(file.MimeType)
	detected := mimetype.Detect(file.Data)
	mimeType := declared
	if mimeType == "" {
		mimeType = normalizeMime(detected.String())
	}
	if _, ok := allowedMimeTypes[mimeType]; !ok {
		details["mime_type"] = mimeType
		return prepared{}, apperrors.NewInvalidFile("file type not allowed", details)
	}
	if strings.HasPrefix(mimeType, "image/") && !detected.Is(mimeType) {
		details["mime_type"] = mimeType
		details["detected"] = detected.String()
		return prepared{}, apperrors.NewInvalidFile("file content does not match its type", details)
	}

	safeName := SanitizeFilename(file.Name)
	if len(safeName) > maxFilenameLength {
		return prepared{}, apperrors.NewInvalidFile("file name too long", details)
	}

	return prepared{file: file, safeName: safeName, mimeType: mimeType, size: size}, nil
}

func (s *Store) write(ctx context.Context, p prepared) (domain.Attachment, error) {
	now := s.now()
	path := fmt.Sprintf("%s/%d-%d-%s", pathPrefix, now.UnixMilli(), uuid.New().ID(), p.safeName)
	location, err := s.blobs.Write(ctx, path, p.file.Data)
	if err != nil {
		return domain.Attachment{}, apperrors.NewStorageError(err)
	}
	return domain.Attachment{
		Filename:        p.safeName,
		StorageLocation: location,
		UploadedAt:      now,
		Size:            p.size,
		MimeType:        p.mimeType,
	}, nil
}

// SanitizeFilename replaces every character outside [a-zA-Z0-9.-] with an underscore.
func SanitizeFilename(name string) string {
	return unsafeNameChars.ReplaceAllString(filepath.Base(name), "_")
}

func normalizeMime(value string) string {
	if i := strings.IndexByte(value, ';'); i >= 0 {
		value = value[:i]
	}
	return strings.ToLower(strings.TrimSpace(value))
}
