package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/retrotalk/internal/config"
)

func TestBuildInMemoryMock(t *testing.T) {
	cfg := config.Config{
		MetricsNamespace: "app_build_test",
		DefaultUserID:    "local",
		ManagerCacheSize: 4,
		LockTTL:          time.Minute,
		AssistantMode:    "mock",
		AssistantTimeout: time.Second,
	}

	built, err := Build(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer func() { require.NoError(t, built.Cleanup()) }()

	assert.Equal(t, "in-memory", built.Service.StoreMode())
	assert.Equal(t, "local", built.Service.LockMode())
	assert.Equal(t, "mock", built.Service.AssistantProvider())

	rec := httptest.NewRecorder()
	built.API.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/retrospects", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestBuildRejectsUnknownAssistantMode(t *testing.T) {
	cfg := config.Config{
		MetricsNamespace: "app_build_bad_mode_test",
		AssistantMode:    "oracle",
	}
	_, err := Build(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
}
