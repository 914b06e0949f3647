package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/yourusername/wallcache-go/internal/domain"
	"github.com/yourusername/wallcache-go/internal/infrastructure"
	"github.com/yourusername/wallcache-go/pkg/logger"
)

// ErrInvalidFetchRequest is wrapped by every error Fetch returns for a request
// it refuses to run
var ErrInvalidFetchRequest = errors.New("invalid fetch request")

// FetchItem is one picture to materialize together with its metadata
type FetchItem struct {
	Key             string `json:"key"`
	Locator         string `json:"url"`
	Title           string `json:"title"`
	Attribution     string `json:"copyright,omitempty"`
	AttributionLink string `json:"copyright_link,omitempty"`
	SourceBaseURL   string `json:"url_base,omitempty"`
	DestinationPath string `json:"destination,omitempty"` // defaults to <images_dir>/<key><ext>
}

// FetchRequest is a batch of items plus an optional concurrency override
type FetchRequest struct {
	Items       []FetchItem `json:"items"`
	Concurrency int         `json:"concurrency,omitempty"`
}

// Validate checks that every item has a usable, unique key and a locator
func (r FetchRequest) Validate() error {
	if len(r.Items) == 0 {
		return errors.New("at least one item is required")
	}
	if r.Concurrency < 0 {
		return fmt.Errorf("invalid concurrency: %d", r.Concurrency)
	}

	seen := make(map[string]bool, len(r.Items))
	for i, item := range r.Items {
		switch {
		case item.Key == "":
			return fmt.Errorf("item %d: key is required", i)
		case item.Key == "." || item.Key == ".." || strings.ContainsAny(item.Key, `/\`):
			return fmt.Errorf("item %d: invalid key %q", i, item.Key)
		case item.Locator == "":
			return fmt.Errorf("item %d: url is required", i)
		case seen[item.Key]:
			return fmt.Errorf("item %d: duplicate key %q", i, item.Key)
		}
		seen[item.Key] = true
	}
	return nil
}

// BatchReport is the outcome of one Fetch call
type BatchReport struct {
	Batch    *domain.BatchRecord `json:"batch"`
	Messages []string            `json:"messages,omitempty"` // one line per item that did not make it into the index
}

// BatchService turns fetch requests into coordinator runs, index updates
// and batch history
type BatchService struct {
	coordinator *DownloadCoordinator
	index       *IndexManager
	history     domain.HistoryRepository
	hub         *ProgressHub
	config      *domain.Config
	logger      *zap.Logger
	multiLogger *logger.MultiLogger
}

// NewBatchService creates a batch service. history and hub may be nil.
func NewBatchService(
	coordinator *DownloadCoordinator,
	index *IndexManager,
	history domain.HistoryRepository,
	hub *ProgressHub,
	config *domain.Config,
	log *zap.Logger,
	multiLogger *logger.MultiLogger,
) *BatchService {
	return &BatchService{
		coordinator: coordinator,
		index:       index,
		history:     history,
		hub:         hub,
		config:      config,
		logger:      logger.OrNop(log),
		multiLogger: multiLogger,
	}
}

// Fetch downloads every item, upserts the successful ones into the index and
// records the batch. Individual failures are reported, never returned as an
// error; only an invalid request fails the call.
func (s *BatchService) Fetch(ctx context.Context, req FetchRequest) (*BatchReport, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFetchRequest, err)
	}

	concurrency := req.Concurrency
	if concurrency == 0 {
		concurrency = s.config.Download.Concurrency
	}

	tasks := make([]domain.DownloadTask, len(req.Items))
	for i, item := range req.Items {
		dest, err := s.destinationFor(item)
		if err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", ErrInvalidFetchRequest, i, err)
		}
		tasks[i] = domain.DownloadTask{
			Locator:         item.Locator,
			DestinationPath: dest,
		}
	}

	batch := domain.NewBatchRecord(concurrency)
	s.multiLogger.LogBatchEvent("batch_started",
		zap.String("batch_id", batch.ID),
		zap.Int("tasks", len(tasks)),
		zap.Int("concurrency", concurrency))

	var onProgress domain.ProgressFunc
	if s.hub != nil {
		onProgress = func(ev domain.ProgressEvent) {
			ev.BatchID = batch.ID
			s.hub.Publish(ev)
		}
	}

	results := s.coordinator.Run(ctx, tasks, concurrency, onProgress)

	report := &BatchReport{Batch: batch}
	for i, result := range results {
		item := req.Items[i]

		if result.Succeeded() {
			if err := s.index.Upsert(entryFromItem(item, result.FinalPath)); err != nil {
				s.logger.Error("Failed to update index",
					zap.String("key", item.Key),
					zap.Error(err))
				result.Kind = domain.ErrorKindFilesystem
				result.Err = fmt.Errorf("index update failed: %w", err)
			}
		}
		batch.AddResult(item.Key, tasks[i].DestinationPath, result)

		if !result.Succeeded() {
			report.Messages = append(report.Messages,
				fmt.Sprintf("%s skipped, reason: %s", item.Key, result.Reason()))
			s.multiLogger.LogBatchEvent("task_failed",
				zap.String("batch_id", batch.ID),
				zap.String("key", item.Key),
				zap.String("url", item.Locator),
				zap.String("kind", string(result.Kind)),
				zap.Int("attempts", result.Attempts),
				zap.Error(result.Err))
			continue
		}

		s.multiLogger.LogBatchEvent("task_completed",
			zap.String("batch_id", batch.ID),
			zap.String("key", item.Key),
			zap.Bool("already_present", result.Skipped),
			zap.String("file", result.FinalPath))
	}
	batch.MarkFinished()

	if s.history != nil {
		if err := s.history.CreateBatch(batch); err != nil {
			s.logger.Error("Failed to record batch history", zap.String("batch_id", batch.ID), zap.Error(err))
			s.multiLogger.LogAppError("Failed to record batch history",
				zap.String("batch_id", batch.ID), zap.Error(err))
		}
	}

	s.logger.Info("Batch finished",
		zap.String("batch_id", batch.ID),
		zap.Int("total", batch.Total),
		zap.Int("succeeded", batch.Succeeded),
		zap.Int("skipped", batch.Skipped),
		zap.Int("failed", batch.Failed),
		zap.Int("cancelled", batch.Cancelled))
	s.multiLogger.LogBatchEvent("batch_finished",
		zap.String("batch_id", batch.ID),
		zap.Int("succeeded", batch.Succeeded),
		zap.Int("failed", batch.Failed),
		zap.Int("cancelled", batch.Cancelled))

	return report, nil
}

// destinationFor resolves where an item is stored. Explicit destinations are
// taken relative to the images directory and must stay inside it.
func (s *BatchService) destinationFor(item FetchItem) (string, error) {
	images := s.config.Storage.ImagesPath()

	if item.DestinationPath != "" {
		dest := item.DestinationPath
		if !filepath.IsAbs(dest) {
			dest = filepath.Join(images, dest)
		}
		dest = filepath.Clean(dest)
		if !infrastructure.IsWithinDir(images, dest) {
			return "", fmt.Errorf("destination %q is outside the images directory", item.DestinationPath)
		}
		return dest, nil
	}

	ext := s.config.Download.DefaultExtension
	if u, err := url.Parse(item.Locator); err == nil {
		if e := strings.ToLower(path.Ext(u.Path)); isImageExtension(e) {
			ext = e
		}
	}
	return filepath.Join(images, item.Key+ext), nil
}

func isImageExtension(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif", ".bmp":
		return true
	}
	return false
}

func entryFromItem(item FetchItem, finalPath string) domain.LocalMetadataEntry {
	return domain.LocalMetadataEntry{
		Key:             item.Key,
		Title:           item.Title,
		Attribution:     item.Attribution,
		AttributionLink: item.AttributionLink,
		SourceBaseURL:   item.SourceBaseURL,
		LocalFilePath:   finalPath,
	}
}

// ListBatches returns recent batches, newest first
func (s *BatchService) ListBatches(limit int) ([]*domain.BatchRecord, error) {
	if s.history == nil {
		return []*domain.BatchRecord{}, nil
	}
	return s.history.ListBatches(limit)
}

// GetBatch returns a recorded batch with its tasks
func (s *BatchService) GetBatch(id string) (*domain.BatchRecord, error) {
	if s.history == nil {
		return nil, domain.ErrBatchNotFound
	}
	batch, err := s.history.FindBatch(id)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, domain.ErrBatchNotFound
	}
	return batch, nil
}

// TasksForKey returns every recorded attempt to fetch key
func (s *BatchService) TasksForKey(key string) ([]*domain.TaskRecord, error) {
	if s.history == nil {
		return []*domain.TaskRecord{}, nil
	}
	return s.history.FindTasksByKey(key)
}

// Stats returns aggregated history statistics
func (s *BatchService) Stats() (*domain.HistoryStats, error) {
	if s.history == nil {
		return &domain.HistoryStats{}, nil
	}
	return s.history.GetStats()
}
