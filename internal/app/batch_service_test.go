package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/wallcache-go/internal/domain"
	"github.com/yourusername/wallcache-go/internal/infrastructure"
)

type batchFixture struct {
	service *BatchService
	fetcher *fakeFetcher
	index   *IndexManager
	history *infrastructure.SQLiteHistoryRepository
	hub     *ProgressHub
	config  *domain.Config
}

func newBatchFixture(t *testing.T) *batchFixture {
	t.Helper()
	base := t.TempDir()

	cfg := domain.DefaultConfig()
	cfg.Storage.BaseDir = base
	cfg.History.DatabasePath = filepath.Join(base, "history.db")

	history, err := infrastructure.NewSQLiteHistoryRepository(cfg.History.DatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })

	fetcher := newFakeFetcher()
	coordinator, _ := newTestCoordinator(fetcher, 2)
	index := NewIndexManager(infrastructure.NewIndexStore(cfg.Storage.IndexPath()), nil, nil, nil)
	hub := NewProgressHub(512)

	return &batchFixture{
		service: NewBatchService(coordinator, index, history, hub, cfg, nil, nil),
		fetcher: fetcher,
		index:   index,
		history: history,
		hub:     hub,
		config:  cfg,
	}
}

func items(keys ...string) []FetchItem {
	out := make([]FetchItem, len(keys))
	for i, k := range keys {
		out[i] = FetchItem{
			Key:         k,
			Locator:     "https://img.example.com/" + k + ".jpg",
			Title:       "Title " + k,
			Attribution: "© " + k,
		}
	}
	return out
}

func TestBatchService_FetchUpsertsSuccesses(t *testing.T) {
	f := newBatchFixture(t)
	req := FetchRequest{Items: items("20240101", "20240102", "20240103"), Concurrency: 2}
	f.fetcher.errs[req.Items[1].Locator] = func(int) error {
		return &domain.NetworkError{StatusCode: http.StatusNotFound, Err: errors.New("Not Found")}
	}

	report, err := f.service.Fetch(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Batch.Total)
	assert.Equal(t, 2, report.Batch.Succeeded)
	assert.Equal(t, 1, report.Batch.Failed)
	require.Len(t, report.Messages, 1)
	assert.True(t, strings.HasPrefix(report.Messages[0], "20240102 skipped, reason: permanent"))

	all, err := f.index.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "20240103", all[0].Key)
	assert.Equal(t, filepath.Join(f.config.Storage.ImagesPath(), "20240103.jpg"), all[0].LocalFilePath)
	assert.Equal(t, "© 20240103", all[0].Attribution)
	assert.FileExists(t, all[0].LocalFilePath)

	recorded, err := f.service.GetBatch(report.Batch.ID)
	require.NoError(t, err)
	require.Len(t, recorded.Tasks, 3)
	assert.Equal(t, domain.StatusFailed, recorded.Tasks[1].Status)
	assert.Equal(t, "20240102", recorded.Tasks[1].EntryKey)
}

func TestBatchService_RefetchSkipsExistingFiles(t *testing.T) {
	f := newBatchFixture(t)
	req := FetchRequest{Items: items("20240101", "20240102")}

	_, err := f.service.Fetch(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 2, f.fetcher.totalCalls())

	report, err := f.service.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, f.fetcher.totalCalls())
	assert.Equal(t, 2, report.Batch.Skipped)
	assert.Empty(t, report.Messages)

	stats, err := f.service.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Batches)
	assert.Equal(t, int64(2), stats.Downloaded)
	assert.Equal(t, int64(2), stats.Skipped)

	tasks, err := f.service.TasksForKey("20240101")
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	batches, err := f.service.ListBatches(10)
	require.NoError(t, err)
	assert.Len(t, batches, 2)
}

func TestBatchService_AllFailedIsNotAnError(t *testing.T) {
	f := newBatchFixture(t)
	req := FetchRequest{Items: items("a", "b", "c")}
	for _, item := range req.Items {
		f.fetcher.errs[item.Locator] = func(int) error {
			return &domain.NetworkError{Transient: true, Err: errors.New("connection reset")}
		}
	}

	report, err := f.service.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Batch.Failed)
	assert.Len(t, report.Messages, 3)

	all, err := f.index.GetAll()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestBatchService_PublishesProgressWithBatchID(t *testing.T) {
	f := newBatchFixture(t)
	events, unsubscribe := f.hub.Subscribe()
	defer unsubscribe()

	report, err := f.service.Fetch(context.Background(), FetchRequest{Items: items("20240101")})
	require.NoError(t, err)

	timeout := time.After(time.Second)
	for {
		select {
		case ev := <-events:
			assert.Equal(t, report.Batch.ID, ev.BatchID)
			if ev.Type == domain.ProgressBatchDone {
				assert.Equal(t, 1, ev.Completed)
				return
			}
		case <-timeout:
			t.Fatal("batch_done event not received")
		}
	}
}

func TestBatchService_DestinationResolution(t *testing.T) {
	f := newBatchFixture(t)
	images := f.config.Storage.ImagesPath()

	resolve := func(item FetchItem) string {
		t.Helper()
		dest, err := f.service.destinationFor(item)
		require.NoError(t, err)
		return dest
	}

	assert.Equal(t, filepath.Join(images, "k.png"),
		resolve(FetchItem{Key: "k", Locator: "https://x.example/pic.PNG"}))
	assert.Equal(t, filepath.Join(images, "k.jpg"),
		resolve(FetchItem{Key: "k", Locator: "https://x.example/th?id=OHR.Foo_1920x1080.jpg"}))
	assert.Equal(t, filepath.Join(images, "2024", "place.jpg"),
		resolve(FetchItem{Key: "k", Locator: "https://x.example/a.jpg", DestinationPath: "2024/place.jpg"}))
	assert.Equal(t, filepath.Join(images, "abs.jpg"),
		resolve(FetchItem{Key: "k", Locator: "https://x.example/a.jpg", DestinationPath: filepath.Join(images, "abs.jpg")}))

	for _, dest := range []string{"/custom/place.jpg", "../escape.jpg", images, filepath.Join(images, "..", "x.jpg")} {
		_, err := f.service.destinationFor(FetchItem{Key: "k", Locator: "https://x.example/a.jpg", DestinationPath: dest})
		assert.Error(t, err, dest)
	}
}

func TestBatchService_RejectsDestinationOutsideImages(t *testing.T) {
	f := newBatchFixture(t)

	outside := filepath.Join(t.TempDir(), "precious.txt")
	require.NoError(t, os.WriteFile(outside, []byte("keep me"), 0644))

	req := FetchRequest{Items: items("k")}
	req.Items[0].DestinationPath = outside

	_, err := f.service.Fetch(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidFetchRequest)
	assert.Equal(t, 0, f.fetcher.totalCalls())

	_, err = f.service.index.Get("k")
	assert.ErrorIs(t, err, domain.ErrEntryNotFound)

	data, err := os.ReadFile(outside)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(data))
}

func TestBatchService_IndexFailureIsRecordedAsFailed(t *testing.T) {
	f := newBatchFixture(t)
	f.service.index = NewIndexManager(&memoryStore{failSave: errors.New("disk full")}, nil, nil, nil)

	report, err := f.service.Fetch(context.Background(), FetchRequest{Items: items("20240101", "20240102")})
	require.NoError(t, err)

	assert.Equal(t, 0, report.Batch.Succeeded)
	assert.Equal(t, 2, report.Batch.Failed)
	require.Len(t, report.Messages, 2)
	assert.Contains(t, report.Messages[0], "20240101 skipped, reason: filesystem")
	assert.Contains(t, report.Messages[0], "index update failed")

	stats, err := f.history.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Downloaded)
	assert.Equal(t, int64(2), stats.Failed)

	stored, err := f.history.FindBatch(report.Batch.ID)
	require.NoError(t, err)
	for _, task := range stored.Tasks {
		assert.Equal(t, domain.StatusFailed, task.Status)
		assert.Equal(t, domain.ErrorKindFilesystem, task.ErrorKind)
	}
}

func TestBatchService_InvalidRequests(t *testing.T) {
	f := newBatchFixture(t)

	tests := map[string]FetchRequest{
		"empty":         {},
		"missing key":   {Items: []FetchItem{{Locator: "https://x.example/a.jpg"}}},
		"missing url":   {Items: []FetchItem{{Key: "a"}}},
		"path key":      {Items: []FetchItem{{Key: "../a", Locator: "https://x.example/a.jpg"}}},
		"duplicate key": {Items: append(items("a"), items("a")...)},
		"concurrency":   {Items: items("a"), Concurrency: -1},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := f.service.Fetch(context.Background(), req)
			assert.Error(t, err)
		})
	}
	assert.Equal(t, 0, f.fetcher.totalCalls())
}

func TestBatchService_GetBatchNotFound(t *testing.T) {
	f := newBatchFixture(t)
	_, err := f.service.GetBatch("missing")
	assert.ErrorIs(t, err, domain.ErrBatchNotFound)
}

func TestBatchService_WithoutHistory(t *testing.T) {
	f := newBatchFixture(t)
	svc := NewBatchService(f.service.coordinator, f.index, nil, nil, f.config, nil, nil)

	report, err := svc.Fetch(context.Background(), FetchRequest{Items: items("20240101")})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Batch.Succeeded)

	batches, err := svc.ListBatches(10)
	require.NoError(t, err)
	assert.Empty(t, batches)

	_, err = svc.GetBatch(report.Batch.ID)
	assert.ErrorIs(t, err, domain.ErrBatchNotFound)
}

func TestNewRuntime(t *testing.T) {
	base := t.TempDir()
	cfg := domain.DefaultConfig()
	cfg.Storage.BaseDir = base
	cfg.History.DatabasePath = filepath.Join(base, "db", "history.db")

	rt, err := NewRuntime(cfg, nil, nil)
	require.NoError(t, err)
	defer rt.Close()

	assert.DirExists(t, cfg.Storage.ImagesPath())
	assert.NotNil(t, rt.History)
	assert.NotNil(t, rt.Batches)

	idx, err := rt.Index.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())

	_, err = os.Stat(filepath.Join(base, "db", "history.db"))
	assert.NoError(t, err)
}
