package factory

import (
	"log/slog"
	"time"

	"github.com/roomsync/roomsync/internal/dependencies/mocks"
	"github.com/roomsync/roomsync/internal/storage/memory"
	"github.com/roomsync/roomsync/internal/testutil"
)

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MockClock  *mocks.MockClock
	MockRandom *mocks.MockRandom
}

// NewTestApp creates an App configured for testing with mocked dependencies
func NewTestApp() *TestApp {
	return NewTestAppWithConfig(Config{})
}

// NewTestAppWithConfig creates a TestApp with custom service configs
func NewTestAppWithConfig(cfg Config) *TestApp {
	store := memory.New()
	mockClock := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	mockRandom := mocks.NewMockRandom()

	var logger *slog.Logger
	if cfg.Logger != nil {
		logger = cfg.Logger
	} else {
		logger = testutil.NopLogger()
	}

	app := NewWithDependencies(store, mockClock, mockRandom, cfg, logger)

	return &TestApp{
		App:        app,
		MockClock:  mockClock,
		MockRandom: mockRandom,
	}
}
