package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"skillchain_backend/internal/config"
	"skillchain_backend/internal/repository"
	"skillchain_backend/internal/service"
	"skillchain_backend/internal/util"
	"skillchain_backend/pkg/database"
	"skillchain_backend/pkg/logger"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.InitNop()
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func TestRespondErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{util.ErrNoEnrolledCourse, http.StatusUnprocessableEntity},
		{&util.NoEligibleLessonError{UserID: 1}, http.StatusUnprocessableEntity},
		{&util.InsufficientDataError{Have: 2, Need: 10}, http.StatusUnprocessableEntity},
		{&util.ScheduleConflictError{Day: time.Now(), LessonID: 1, Hour: 24}, http.StatusConflict},
		{util.ErrTrainingInProgress, http.StatusConflict},
		{fmt.Errorf("lookup: %w", util.ErrEntryNotFound), http.StatusNotFound},
		{util.ErrQuizNotFound, http.StatusNotFound},
		{util.ErrNoActiveModel, http.StatusNotFound},
		{fmt.Errorf("%w: bad day", util.ErrInvalidInput), http.StatusBadRequest},
		{util.ErrInvalidStatus, http.StatusBadRequest},
		{fmt.Errorf("%w: conv2d", util.ErrUnsupportedLayer), http.StatusBadRequest},
		{&util.TrainingError{Reason: "nan loss"}, http.StatusBadRequest},
		{util.ErrPermissionDenied, http.StatusForbidden},
		{&util.RemoteFetchError{Op: "model", Err: errors.New("timeout")}, http.StatusBadGateway},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			w := httptest.NewRecorder()
			ctx, _ := gin.CreateTestContext(w)
			respondError(ctx, tc.err)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestParseUintParam(t *testing.T) {
	w := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(w)
	ctx.Params = gin.Params{{Key: "id", Value: "abc"}}
	_, ok := parseUintParam(ctx, "id")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ctx, _ = gin.CreateTestContext(httptest.NewRecorder())
	ctx.Params = gin.Params{{Key: "id", Value: "17"}}
	id, ok := parseUintParam(ctx, "id")
	assert.True(t, ok)
	assert.Equal(t, uint(17), id)
}

func newSchedulingController(t *testing.T) *SchedulingController {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.InitDB(&config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      fmt.Sprintf("file:ctrl_%s?mode=memory&cache=shared", name),
		LogLevel: "silent",
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	cfg := config.DefaultSchedulingConfig()
	cfg.BaselineEpochs = 20
	settings := service.NewSchedulingSettings(cfg)
	sessions := repository.NewTrainingSessionRepository(db)
	registry := service.NewEngineRegistry(repository.NewPreferenceRepository(db), sessions,
		repository.NewModelRecordRepository(db), repository.NewMemoryModelCache(), settings)
	return NewSchedulingController(registry, service.NewBehaviorService(sessions, settings), nil)
}

func asUser(userID uint) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user", &util.Claims{UserID: userID, Role: util.RoleStudent})
		c.Next()
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func serve(t *testing.T, r *gin.Engine, method, path string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	var body envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestGetRecommendation(t *testing.T) {
	c := newSchedulingController(t)
	r := gin.New()
	r.GET("/anon", c.GetRecommendation)
	r.GET("/rec", asUser(1), c.GetRecommendation)

	w, _ := serve(t, r, http.MethodGet, "/anon")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	for _, bad := range []string{"25", "-1", "noon"} {
		w, body := serve(t, r, http.MethodGet, "/rec?hour="+bad)
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
		assert.Equal(t, "hour must be between 0 and 23", body.Message)
	}

	w, body := serve(t, r, http.MethodGet, "/rec?hour=9")
	require.Equal(t, http.StatusOK, w.Code)
	var pred service.Prediction
	require.NoError(t, json.Unmarshal(body.Data, &pred))
	assert.Equal(t, 9, pred.Hour)
	assert.Len(t, pred.AllScores, 4)
	assert.Equal(t, service.TierBaseline, pred.Tier)
}

func TestTrainModelWithoutHistoryWarns(t *testing.T) {
	c := newSchedulingController(t)
	r := gin.New()
	r.POST("/train", asUser(1), c.TrainModel)
	r.GET("/status", asUser(1), c.GetModelStatus)

	w, body := serve(t, r, http.MethodPost, "/train")
	require.Equal(t, http.StatusOK, w.Code)
	var data struct {
		Status  service.ModelStatus `json:"status"`
		Warning string              `json:"warning"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &data))
	assert.Contains(t, data.Warning, "insufficient training data")
	assert.Equal(t, service.TierBaseline, data.Status.Tier)

	w, body = serve(t, r, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, w.Code)
	var st service.ModelStatus
	require.NoError(t, json.Unmarshal(body.Data, &st))
	assert.Equal(t, service.StateReady, st.State)
}

func TestGetBehaviorWithoutData(t *testing.T) {
	c := newSchedulingController(t)
	r := gin.New()
	r.GET("/behavior", asUser(3), c.GetBehavior)

	w, body := serve(t, r, http.MethodGet, "/behavior")
	require.Equal(t, http.StatusOK, w.Code)
	var report service.BehaviorReport
	require.NoError(t, json.Unmarshal(body.Data, &report))
	assert.Equal(t, uint(3), report.UserID)
	assert.Equal(t, "No study data available", report.Message)
}
