package mocks

import (
	"context"
	"time"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockCheckpointRepository is a mock implementation of persistence.CheckpointRepository interface.
type MockCheckpointRepository struct {
	mock.Mock
}

func (m *MockCheckpointRepository) CreateThread(ctx context.Context, thread *models.Thread) error {
	args := m.Called(ctx, thread)

	return args.Error(0)
}

func (m *MockCheckpointRepository) GetThread(ctx context.Context, threadID string) (*models.Thread, error) {
	args := m.Called(ctx, threadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Thread), args.Error(1)
}

func (m *MockCheckpointRepository) UpdateThreadStatus(ctx context.Context, threadID string, status models.ThreadStatus, metadata map[string]any) error {
	args := m.Called(ctx, threadID, status, metadata)

	return args.Error(0)
}

func (m *MockCheckpointRepository) ListThreadsByStatus(ctx context.Context, status models.ThreadStatus) ([]*models.Thread, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Thread), args.Error(1)
}

func (m *MockCheckpointRepository) DeleteThread(ctx context.Context, threadID string) error {
	args := m.Called(ctx, threadID)

	return args.Error(0)
}

func (m *MockCheckpointRepository) PutCheckpoint(ctx context.Context, cp *models.Checkpoint) error {
	args := m.Called(ctx, cp)

	return args.Error(0)
}

func (m *MockCheckpointRepository) GetCheckpoint(ctx context.Context, threadID, checkpointID string) (*models.Checkpoint, error) {
	args := m.Called(ctx, threadID, checkpointID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Checkpoint), args.Error(1)
}

func (m *MockCheckpointRepository) ListCheckpoints(ctx context.Context, threadID string) ([]*models.Checkpoint, error) {
	args := m.Called(ctx, threadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Checkpoint), args.Error(1)
}

// MockGuidelineRepository is a mock implementation of persistence.GuidelineRepository interface.
type MockGuidelineRepository struct {
	mock.Mock
}

func (m *MockGuidelineRepository) GetProfile(ctx context.Context, userID, profileID string) (*models.GuidelineProfile, error) {
	args := m.Called(ctx, userID, profileID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.GuidelineProfile), args.Error(1)
}

func (m *MockGuidelineRepository) ListProfiles(ctx context.Context, userID string, kind models.GuidelineKind) ([]*models.GuidelineProfile, error) {
	args := m.Called(ctx, userID, kind)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.GuidelineProfile), args.Error(1)
}

func (m *MockGuidelineRepository) SaveProfile(ctx context.Context, profile *models.GuidelineProfile) error {
	args := m.Called(ctx, profile)

	return args.Error(0)
}

// MockPreferenceRepository is a mock implementation of persistence.PreferenceRepository interface.
type MockPreferenceRepository struct {
	mock.Mock
}

func (m *MockPreferenceRepository) FindPreference(ctx context.Context, userID, profileID, conflictType string) (*models.LearnedPreference, error) {
	args := m.Called(ctx, userID, profileID, conflictType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.LearnedPreference), args.Error(1)
}

func (m *MockPreferenceRepository) SavePreference(ctx context.Context, pref *models.LearnedPreference) error {
	args := m.Called(ctx, pref)

	return args.Error(0)
}

func (m *MockPreferenceRepository) RecordUsage(ctx context.Context, preferenceID string, at time.Time) error {
	args := m.Called(ctx, preferenceID, at)

	return args.Error(0)
}

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	Checkpoints *MockCheckpointRepository
	Guidelines  *MockGuidelineRepository
	Preferences *MockPreferenceRepository
}

// NewMockPersistence creates a MockPersistence with fresh repository mocks.
func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		Checkpoints: &MockCheckpointRepository{},
		Guidelines:  &MockGuidelineRepository{},
		Preferences: &MockPreferenceRepository{},
	}
}

func (m *MockPersistence) CheckpointRepository() persistence.CheckpointRepository {
	return m.Checkpoints
}

func (m *MockPersistence) GuidelineRepository() persistence.GuidelineRepository {
	return m.Guidelines
}

func (m *MockPersistence) PreferenceRepository() persistence.PreferenceRepository {
	return m.Preferences
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
