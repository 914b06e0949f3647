package app

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/yourusername/wallcache-go/internal/domain"
	"github.com/yourusername/wallcache-go/internal/infrastructure"
	"github.com/yourusername/wallcache-go/pkg/logger"
)

// Runtime holds the process-wide handles shared by the server and the CLI.
// Each handle is constructed once and passed by reference.
type Runtime struct {
	Config      *domain.Config
	Logger      *zap.Logger
	MultiLogger *logger.MultiLogger
	Client      *infrastructure.HTTPClient
	Index       *IndexManager
	Coordinator *DownloadCoordinator
	History     domain.HistoryRepository
	Hub         *ProgressHub
	Batches     *BatchService
}

// NewRuntime wires every component from configuration. multiLogger may be nil.
func NewRuntime(config *domain.Config, log *zap.Logger, multiLogger *logger.MultiLogger) (*Runtime, error) {
	log = logger.OrNop(log)

	if err := createDirectories(config); err != nil {
		return nil, err
	}

	rt := &Runtime{
		Config:      config,
		Logger:      log,
		MultiLogger: multiLogger,
		Client:      infrastructure.NewHTTPClient(infrastructure.HTTPClientOptionsFromConfig(&config.Download)),
		Hub:         NewProgressHub(64),
	}

	if config.History.Enabled {
		repo, err := infrastructure.NewSQLiteHistoryRepository(config.History.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize history: %w", err)
		}
		rt.History = repo
	}

	rt.Index = NewIndexManager(
		infrastructure.NewIndexStore(config.Storage.IndexPath()),
		infrastructure.NewLegacyReader(config.Storage.LegacyPath()),
		log.Named("index"),
		multiLogger,
	)
	rt.Index.SetFilesRoot(config.Storage.ImagesPath())
	rt.Coordinator = NewDownloadCoordinator(rt.Client, CoordinatorOptionsFromConfig(&config.Download), log.Named("download"))
	rt.Batches = NewBatchService(rt.Coordinator, rt.Index, rt.History, rt.Hub, config, log.Named("batch"), multiLogger)

	return rt, nil
}

// Close releases pooled connections and the history database
func (rt *Runtime) Close() error {
	rt.Client.Close()
	if rt.History != nil {
		return rt.History.Close()
	}
	return nil
}

func createDirectories(config *domain.Config) error {
	dirs := []string{
		config.Storage.BaseDir,
		config.Storage.ImagesPath(),
		filepath.Dir(config.Storage.IndexPath()),
	}
	if config.History.Enabled {
		dirs = append(dirs, filepath.Dir(config.History.DatabasePath))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
