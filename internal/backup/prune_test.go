package backup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lupppig/sqlbackup/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockLister struct {
	mock.Mock
}

func (m *MockLister) List(ctx context.Context) ([]storage.FileInfo, error) {
	args := m.Called(ctx)
	files, _ := args.Get(0).([]storage.FileInfo)
	return files, args.Error(1)
}

func (m *MockLister) Delete(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *MockLister) Location() string {
	return "mock://backups"
}

func fixedClock() func() time.Time {
	now := time.Date(2024, 5, 1, 2, 0, 0, 0, time.Local)
	return func() time.Time { return now }
}

func TestPruneManager_Prune(t *testing.T) {
	ctx := context.Background()
	ms := new(MockLister)

	ms.On("List", ctx).Return([]storage.FileInfo{
		// dated by name
		{Name: "Loja-2024-04-01-020000.7z"},
		{Name: "Loja-2024-04-29-020000.7z", ModTime: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
		// dated by mtime
		{Name: "Loja-1.tar.zst", ModTime: time.Date(2024, 3, 1, 0, 0, 0, 0, time.Local)},
		{Name: "Loja-2.tar.gz", ModTime: time.Date(2024, 4, 30, 0, 0, 0, 0, time.Local)},
		// undetermined
		{Name: "Loja-manual.7z"},
		// ignored
		{Name: "Filial-2024-01-01-020000.7z"},
		{Name: "Loja-2024-01-01-020000.bak"},
	}, nil)
	ms.On("Delete", ctx, "Loja-2024-04-01-020000.7z").Return(nil)
	ms.On("Delete", ctx, "Loja-1.tar.zst").Return(nil)

	pm := &PruneManager{Now: fixedClock()}
	res := pm.Prune(ctx, ms, 7, "Loja")

	assert.Equal(t, 2, res.Removed)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, []string{"Loja-manual.7z: undetermined date, skipped"}, res.Messages)
	ms.AssertExpectations(t)
	ms.AssertNumberOfCalls(t, "Delete", 2)
}

func TestPruneManager_CutoffIsStrict(t *testing.T) {
	ctx := context.Background()
	ms := new(MockLister)

	ms.On("List", ctx).Return([]storage.FileInfo{
		{Name: "Loja-2024-04-24-020000.7z"},
		{Name: "Loja-2024-04-24-015959.7z"},
	}, nil)
	ms.On("Delete", ctx, "Loja-2024-04-24-015959.7z").Return(nil)

	pm := &PruneManager{Now: fixedClock()}
	res := pm.Prune(ctx, ms, 7, "Loja")

	assert.Equal(t, 1, res.Removed)
	assert.Zero(t, res.Errors)
	ms.AssertExpectations(t)
}

func TestPruneManager_DeleteFailureContinues(t *testing.T) {
	ctx := context.Background()
	ms := new(MockLister)

	ms.On("List", ctx).Return([]storage.FileInfo{
		{Name: "Loja-2024-01-01-020000.7z"},
		{Name: "Loja-2024-01-02-020000.7z"},
	}, nil)
	ms.On("Delete", ctx, "Loja-2024-01-01-020000.7z").Return(errors.New("550 permission denied"))
	ms.On("Delete", ctx, "Loja-2024-01-02-020000.7z").Return(nil)

	pm := &PruneManager{Now: fixedClock()}
	res := pm.Prune(ctx, ms, 30, "Loja")

	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, []string{"Loja-2024-01-01-020000.7z: 550 permission denied"}, res.Messages)
}

func TestPruneManager_ListFailure(t *testing.T) {
	ctx := context.Background()
	ms := new(MockLister)
	ms.On("List", ctx).Return(nil, errors.New("connection refused"))

	pm := &PruneManager{Now: fixedClock()}
	res := pm.Prune(ctx, ms, 30, "Loja")

	assert.Zero(t, res.Removed)
	assert.Equal(t, 1, res.Errors)
	assert.Contains(t, res.Messages[0], "connection refused")
	ms.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}
