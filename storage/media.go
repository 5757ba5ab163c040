package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MaxMediaBytes caps any single stored binary (images and synthesized audio).
const MaxMediaBytes int64 = 5 * 1024 * 1024

var (
	ErrNotFound    = errors.New("storage: object not found")
	ErrMissingFile = errors.New("storage: file not provided")
)

// MediaStore holds the binaries that later feed the vendor asset-upload
// step: portrait images received from the browser and audio files written
// by the speech synthesizer. It is backed by MinIO/S3 when MINIO_* is
// configured and falls back to a local directory otherwise.
type MediaStore struct {
	client    *minio.Client
	bucket    string
	publicURL string
	localDir  string
}

// NewMediaStoreFromEnv initialises the store from MINIO_* environment
// variables, or from UPLOAD_DIR (default ./uploads) when MinIO is not
// configured.
func NewMediaStoreFromEnv() (*MediaStore, error) {
	endpoint := strings.TrimSpace(os.Getenv("MINIO_ENDPOINT"))
	accessKey := strings.TrimSpace(os.Getenv("MINIO_ACCESS_KEY"))
	secretKey := strings.TrimSpace(os.Getenv("MINIO_SECRET_KEY"))
	bucket := strings.TrimSpace(os.Getenv("MINIO_BUCKET"))

	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		dir := strings.TrimSpace(os.Getenv("UPLOAD_DIR"))
		if dir == "" {
			dir = "./uploads"
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create upload dir: %w", err)
		}
		return &MediaStore{localDir: dir}, nil
	}

	useSSL := strings.EqualFold(strings.TrimSpace(os.Getenv("MINIO_USE_SSL")), "true")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: init minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("storage: create bucket: %w", err)
		}
	}

	publicURL := strings.TrimSpace(os.Getenv("MINIO_PUBLIC_URL"))
	if publicURL == "" {
		scheme := "http"
		if useSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s", scheme, endpoint)
	}

	return &MediaStore{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}, nil
}

// SaveUpload reads a multipart file, enforces the size and content-type
// limits, and stores it under <kind>-<unix-millis><ext>, returning the
// generated filename.
func (s *MediaStore) SaveUpload(ctx context.Context, fileHeader *multipart.FileHeader, kind string) (string, error) {
	if s == nil {
		return "", errors.New("storage: media store not configured")
	}
	if fileHeader == nil {
		return "", ErrMissingFile
	}
	if fileHeader.Size > 0 && fileHeader.Size > MaxMediaBytes {
		return "", fmt.Errorf("storage: file size exceeds %d bytes", MaxMediaBytes)
	}

	src, err := fileHeader.Open()
	if err != nil {
		return "", fmt.Errorf("storage: open upload: %w", err)
	}
	defer src.Close()

	var buffer bytes.Buffer
	limited := io.LimitReader(src, MaxMediaBytes+1)
	written, err := io.Copy(&buffer, limited)
	if err != nil {
		return "", fmt.Errorf("storage: read upload: %w", err)
	}
	if written > MaxMediaBytes {
		return "", fmt.Errorf("storage: file size exceeds %d bytes", MaxMediaBytes)
	}

	data := buffer.Bytes()
	contentType := strings.TrimSpace(fileHeader.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if !isAllowedMediaContent(contentType) {
		return "", fmt.Errorf("storage: unsupported content type %q", contentType)
	}

	kind = strings.TrimSpace(kind)
	if kind == "" {
		kind = "file"
	}
	name := fmt.Sprintf("%s-%d%s", kind, time.Now().UnixMilli(), mediaExtension(fileHeader.Filename, contentType))

	if err := s.Put(ctx, name, data, contentType); err != nil {
		return "", err
	}
	return name, nil
}

// Put stores raw bytes under the given name.
func (s *MediaStore) Put(ctx context.Context, name string, data []byte, contentType string) error {
	if s == nil {
		return errors.New("storage: media store not configured")
	}
	name = sanitizeName(name)
	if name == "" {
		return errors.New("storage: object name cannot be empty")
	}
	if int64(len(data)) > MaxMediaBytes {
		return fmt.Errorf("storage: object exceeds %d bytes", MaxMediaBytes)
	}

	if s.client == nil {
		return os.WriteFile(filepath.Join(s.localDir, name), data, 0o644)
	}

	putCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	_, err := s.client.PutObject(putCtx, s.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("storage: put object: %w", err)
	}
	return nil
}

// Get returns the stored bytes and a best-effort content type.
func (s *MediaStore) Get(ctx context.Context, name string) ([]byte, string, error) {
	if s == nil {
		return nil, "", errors.New("storage: media store not configured")
	}
	name = sanitizeName(name)
	if name == "" {
		return nil, "", ErrNotFound
	}

	if s.client == nil {
		data, err := os.ReadFile(filepath.Join(s.localDir, name))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, "", ErrNotFound
			}
			return nil, "", fmt.Errorf("storage: read object: %w", err)
		}
		return data, http.DetectContentType(data), nil
	}

	getCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	object, err := s.client.GetObject(getCtx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("storage: get object: %w", err)
	}
	defer object.Close()

	data, err := io.ReadAll(io.LimitReader(object, MaxMediaBytes+1))
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.StatusCode == http.StatusNotFound {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("storage: read object: %w", err)
	}

	contentType := ""
	if stat, statErr := object.Stat(); statErr == nil {
		contentType = stat.ContentType
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

// Remove deletes the named object. Missing objects are not an error.
func (s *MediaStore) Remove(ctx context.Context, name string) error {
	if s == nil {
		return nil
	}
	name = sanitizeName(name)
	if name == "" {
		return nil
	}

	if s.client == nil {
		err := os.Remove(filepath.Join(s.localDir, name))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("storage: remove object: %w", err)
		}
		return nil
	}

	removeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.client.RemoveObject(removeCtx, s.bucket, name, minio.RemoveObjectOptions{})
}

// PresignedURL returns a temporary download URL. In local mode the plain
// object name is returned for the caller to serve directly.
func (s *MediaStore) PresignedURL(ctx context.Context, name string, expiry time.Duration) (string, error) {
	if s == nil {
		return "", errors.New("storage: media store not configured")
	}
	name = sanitizeName(name)
	if name == "" {
		return "", nil
	}
	if s.client == nil {
		return name, nil
	}
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}

	presignCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	url, err := s.client.PresignedGetObject(presignCtx, s.bucket, name, expiry, nil)
	if err != nil {
		return "", err
	}
	return url.String(), nil
}

// sanitizeName strips any path components so stored names never escape
// the bucket/directory root.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return name
}

func isAllowedMediaContent(contentType string) bool {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/png", "image/x-png":
		return true
	case "image/jpeg", "image/pjpeg":
		return true
	case "image/webp":
		return true
	case "image/gif":
		return true
	case "audio/mpeg", "audio/mp3":
		return true
	case "audio/wav", "audio/x-wav", "audio/wave":
		return true
	case "audio/webm", "video/webm":
		return true
	case "audio/ogg":
		return true
	default:
		return false
	}
}

func mediaExtension(filename, contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/png", "image/x-png":
		return ".png"
	case "image/jpeg", "image/pjpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/webm", "video/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	}
	ext := strings.ToLower(strings.TrimSpace(filepath.Ext(filename)))
	if ext == "" {
		return ".bin"
	}
	return ext
}
