// Package images persists generated images to disk and resolves saved
// paths back into presentable references for the UI surface.
package images

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/pixelmuse/backend/internal/ai"
	"github.com/pixelmuse/backend/internal/logging"
)

// Saver writes generated images into the image directory, downloading
// URL-form results and decoding inline payloads. The engine stores only
// the returned file paths and never re-derives image bytes itself.
type Saver struct {
	dir    string
	client *resty.Client
	logger *logging.Logger
}

// NewSaver creates a saver writing into dir.
func NewSaver(dir string, logger *logging.Logger) *Saver {
	if logger == nil {
		logger = logging.NewNop()
	}

	// Retryable transport under resty: provider image URLs are short-lived
	// and fetch failures are worth a couple of retries.
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = nil

	client := resty.New().
		SetTimeout(60 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		SetTransport(retryClient.HTTPClient.Transport).
		SetHeader("User-Agent", "pixelmuse/1.0")

	return &Saver{dir: dir, client: client, logger: logger}
}

// SaveAll persists every image in the result and returns the saved file
// paths in order. Failing images are skipped with a warning; the caller
// gets the paths that did save.
func (s *Saver) SaveAll(ctx context.Context, imgs []ai.Image) ([]string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create images dir: %w", err)
	}

	var paths []string
	for i, img := range imgs {
		path, err := s.save(ctx, img)
		if err != nil {
			s.logger.Warn("failed to save generated image",
				zap.Int("index", i),
				zap.Error(err),
			)
			continue
		}
		paths = append(paths, path)
	}
	if len(paths) == 0 && len(imgs) > 0 {
		return nil, fmt.Errorf("no images could be saved")
	}
	return paths, nil
}

func (s *Saver) save(ctx context.Context, img ai.Image) (string, error) {
	path := filepath.Join(s.dir, uuid.New().String()+".png")

	switch {
	case img.B64JSON != "":
		data, err := base64.StdEncoding.DecodeString(img.B64JSON)
		if err != nil {
			return "", fmt.Errorf("invalid inline payload: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return "", fmt.Errorf("failed to write image: %w", err)
		}
	case img.URL != "":
		resp, err := s.client.R().SetContext(ctx).SetOutput(path).Get(img.URL)
		if err != nil {
			return "", fmt.Errorf("failed to download image: %w", err)
		}
		if resp.IsError() {
			os.Remove(path)
			return "", fmt.Errorf("image download returned %s", resp.Status())
		}
	default:
		return "", fmt.Errorf("image has neither URL nor inline payload")
	}

	return path, nil
}
