package handler

import (
	"context"

	"github.com/stretchr/testify/mock"

	"docsync-go/internal/docsync"
)

type mockJobService struct {
	mock.Mock
}

func (m *mockJobService) StartBackup(ctx context.Context, jobType docsync.JobType, triggeredBy string) (*docsync.BackupJob, error) {
	args := m.Called(ctx, jobType, triggeredBy)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*docsync.BackupJob), args.Error(1)
}

func (m *mockJobService) StartImport(ctx context.Context, mode docsync.ImportMode, triggeredBy string) (*docsync.BackupJob, error) {
	args := m.Called(ctx, mode, triggeredBy)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*docsync.BackupJob), args.Error(1)
}

func (m *mockJobService) GetJob(ctx context.Context, id string) (*docsync.BackupJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*docsync.BackupJob), args.Error(1)
}

func (m *mockJobService) RecentJobs(ctx context.Context, limit int) ([]*docsync.BackupJob, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*docsync.BackupJob), args.Error(1)
}

type mockSettingsService struct {
	mock.Mock
}

func (m *mockSettingsService) Settings(ctx context.Context) (docsync.Settings, error) {
	args := m.Called(ctx)
	return args.Get(0).(docsync.Settings), args.Error(1)
}

func (m *mockSettingsService) UpdateSettings(ctx context.Context, patch docsync.SettingsPatch) (docsync.Settings, error) {
	args := m.Called(ctx, patch)
	return args.Get(0).(docsync.Settings), args.Error(1)
}

func (m *mockSettingsService) TestConnection(ctx context.Context, s docsync.Settings) docsync.ConnectionResult {
	args := m.Called(ctx, s)
	return args.Get(0).(docsync.ConnectionResult)
}
