package service

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/vincent-petithory/dataurl"

	"github.com/veo3pk/studio/internal/repository"
	"github.com/veo3pk/studio/internal/storage"
	"github.com/veo3pk/studio/internal/support/logging"
)

const (
	maxReferenceBytes = 10 << 20
	maxDemoAudioBytes = 5 << 20
	maxBundleItems    = 50
	maxFetchBytes     = 200 << 20
)

var (
	imageContentTypes = []string{"image/png", "image/jpeg", "image/webp"}
	audioContentTypes = []string{"audio/wav", "audio/x-wav", "audio/wave", "audio/mpeg", "audio/mp3"}
)

// StoredMedia is an object written to media storage.
type StoredMedia struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// MediaService stores uploads and generated media and packages downloads.
type MediaService interface {
	// SaveDataURL decodes a data URL upload, checks its type and size, and stores it.
	SaveDataURL(ctx context.Context, userID int64, prefix, raw string, allowed []string, maxBytes int) (*StoredMedia, error)
	SaveReferenceImage(ctx context.Context, userID int64, raw string) (*StoredMedia, error)
	SaveDemoAudio(ctx context.Context, userID int64, raw string) (*StoredMedia, error)
	Save(ctx context.Context, userID int64, prefix string, data []byte, contentType string) (*StoredMedia, error)
	// Load reads a stored object by key, or by URL for objects outside our storage.
	Load(ctx context.Context, ref string) ([]byte, string, error)
	// Bundle writes a zip of the user's completed generations and returns the entry count.
	Bundle(ctx context.Context, userID int64, ids []int64, w io.Writer) (int, error)
}

type mediaService struct {
	storage storage.Storage
	history repository.HistoryRepository
	client  *http.Client
	logger  *slog.Logger
	now     Clock
}

func NewMediaService(st storage.Storage, history repository.HistoryRepository, client *http.Client, logger *slog.Logger) MediaService {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &mediaService{
		storage: st,
		history: history,
		client:  client,
		logger:  logging.Component(logger, "media"),
		now:     systemClock,
	}
}

func (s *mediaService) SaveDataURL(ctx context.Context, userID int64, prefix, raw string, allowed []string, maxBytes int) (*StoredMedia, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, invalidField("file", "is required")
	}
	du, err := dataurl.DecodeString(raw)
	if err != nil {
		return nil, invalidField("file", "must be a base64 data URL")
	}
	contentType := strings.ToLower(du.ContentType())
	if len(allowed) > 0 && !slices.Contains(allowed, contentType) {
		return nil, invalidField("file", "unsupported file type "+contentType)
	}
	if maxBytes > 0 && len(du.Data) > maxBytes {
		return nil, invalidField("file", fmt.Sprintf("must be at most %d MB", maxBytes>>20))
	}
	if len(du.Data) == 0 {
		return nil, invalidField("file", "is empty")
	}
	return s.Save(ctx, userID, prefix, du.Data, contentType)
}

func (s *mediaService) SaveReferenceImage(ctx context.Context, userID int64, raw string) (*StoredMedia, error) {
	return s.SaveDataURL(ctx, userID, "references", raw, imageContentTypes, maxReferenceBytes)
}

func (s *mediaService) SaveDemoAudio(ctx context.Context, userID int64, raw string) (*StoredMedia, error) {
	return s.SaveDataURL(ctx, userID, "voices/demo", raw, audioContentTypes, maxDemoAudioBytes)
}

func (s *mediaService) Save(ctx context.Context, userID int64, prefix string, data []byte, contentType string) (*StoredMedia, error) {
	if s.storage == nil {
		return nil, errors.New("media storage is not configured")
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	key := storage.NewKey(prefix, userID, storage.ExtensionFor(contentType), s.now())
	url, err := s.storage.Save(ctx, key, bytes.NewReader(data), contentType)
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", key, err)
	}
	return &StoredMedia{Key: key, URL: url, ContentType: contentType, Size: int64(len(data))}, nil
}

func (s *mediaService) Load(ctx context.Context, ref string) ([]byte, string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, "", ErrNotFound
	}
	if key, ok := s.keyFor(ref); ok {
		rc, err := s.storage.Open(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, "", ErrNotFound
		}
		if err != nil {
			return nil, "", err
		}
		defer rc.Close()
		data, err := io.ReadAll(io.LimitReader(rc, maxFetchBytes))
		if err != nil {
			return nil, "", err
		}
		return data, http.DetectContentType(data), nil
	}
	return s.fetch(ctx, ref)
}

// keyFor resolves refs that live in our storage: bare keys and URLs under the storage base.
func (s *mediaService) keyFor(ref string) (string, bool) {
	if s.storage == nil {
		return "", false
	}
	base := strings.TrimSuffix(s.storage.URL("k"), "k")
	if base != "" && strings.HasPrefix(ref, base) {
		return strings.TrimPrefix(ref, base), true
	}
	if !strings.Contains(ref, "://") && !strings.HasPrefix(ref, "/") {
		return ref, true
	}
	return "", false
}

func (s *mediaService) fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch media: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, "", err
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

func (s *mediaService) Bundle(ctx context.Context, userID int64, ids []int64, w io.Writer) (int, error) {
	if len(ids) == 0 {
		return 0, invalidField("ids", "select at least one item")
	}
	if len(ids) > maxBundleItems {
		return 0, invalidField("ids", fmt.Sprintf("at most %d items per download", maxBundleItems))
	}
	var records []*repository.GenerationRecord
	for _, id := range ids {
		rec, err := s.history.FindByID(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if rec.UserID != userID || rec.DeletedByUser || rec.Status != repository.StatusCompleted || rec.MediaURL == "" {
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return 0, ErrNotFound
	}
	slices.SortFunc(records, func(a, b *repository.GenerationRecord) int {
		if a.SceneNumber != b.SceneNumber {
			return a.SceneNumber - b.SceneNumber
		}
		return int(a.ID - b.ID)
	})

	zw := zip.NewWriter(w)
	written := 0
	for _, rec := range records {
		data, contentType, err := s.Load(ctx, rec.MediaURL)
		if err != nil {
			if ctx.Err() != nil {
				return written, ctx.Err()
			}
			s.logger.WarnContext(ctx, "skip bundle entry", "history_id", rec.ID, "error", err)
			continue
		}
		ext := storage.ExtensionFor(contentType)
		if ext == "bin" && rec.Kind == repository.KindVideo {
			ext = "mp4"
		}
		name := fmt.Sprintf("%s-scene-%03d-%d.%s", rec.Kind, rec.SceneNumber, rec.ID, ext)
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store, Modified: time.Unix(rec.CompletedAt, 0)})
		if err != nil {
			return written, err
		}
		if _, err := fw.Write(data); err != nil {
			return written, err
		}
		written++
	}
	if err := zw.Close(); err != nil {
		return written, err
	}
	return written, nil
}
