package sessionquery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	v1 "github.com/mediant-lab/mediant/internal/api/v1"
	"github.com/mediant-lab/mediant/internal/core/coverage"
	"github.com/mediant-lab/mediant/internal/core/mediation"
	"github.com/mediant-lab/mediant/internal/core/storage/memory"
	"github.com/stretchr/testify/require"
)

var (
	testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	testKey   = mediation.SessionKey{SessionID: 7, SessionStartUTC: testStart}
)

func seedSession(t *testing.T, store *memory.Store, seqnos ...int) {
	t.Helper()
	ctx := context.Background()

	cov := coverage.New()
	var usage int64
	for _, seqno := range seqnos {
		cov.Set(seqno)
		usage += 100

		rec := &v1.DetailRecord{
			SessionID:       testKey.SessionID,
			SessionStartUTC: testKey.SessionStartUTC,
			Seqno:           seqno,
			CallingNumber:   "5551234567",
			Destination:     "api.example.net",
			EventType:       v1.EventTypeIntermediate,
			RecordStartUTC:  testStart.Add(time.Duration(seqno) * time.Second),
			RecordUsage:     100,
		}
		require.NoError(t, store.AppendDetailRecord(ctx, rec))
	}

	require.NoError(t, store.PutDedupRecord(ctx, &mediation.DedupRecord{
		Key:               testKey,
		CallingNumber:     "5551234567",
		Coverage:          cov,
		UnaggregatedUsage: usage,
		LastUpdated:       testStart,
	}))
}

func TestGetSessionMergesBothRows(t *testing.T) {
	store := memory.NewStore()
	seedSession(t, store, 0, 1, 2)

	view, err := NewService(store).GetSession(context.Background(), testKey)
	require.NoError(t, err)

	require.True(t, view.Found)
	require.Equal(t, testKey.SessionID, view.SessionID)
	require.Equal(t, "5551234567", view.CallingNumber)
	require.Equal(t, "api.example.net", view.Destination)
	require.Equal(t, int64(300), view.UnaggregatedUsage)
	require.Equal(t, "0-2", view.Coverage)
	require.Equal(t, 2, view.HighestContiguousSeqno)

	require.NotNil(t, view.Totals)
	require.Equal(t, 0, view.Totals.MinSeqno)
	require.Equal(t, 2, view.Totals.MaxSeqno)
	require.Equal(t, int64(300), view.Totals.RecordUsage)
	require.Equal(t, int64(3), view.Totals.RecordCount)
}

func TestGetSessionWithGap(t *testing.T) {
	store := memory.NewStore()
	seedSession(t, store, 0, 2)

	view, err := NewService(store).GetSession(context.Background(), testKey)
	require.NoError(t, err)

	require.True(t, view.Found)
	require.Equal(t, "X_X", view.Coverage)
	require.Equal(t, -1, view.HighestContiguousSeqno)
}

func TestGetSessionUnknownKey(t *testing.T) {
	store := memory.NewStore()

	view, err := NewService(store).GetSession(context.Background(), testKey)
	require.NoError(t, err)

	require.False(t, view.Found)
	require.Nil(t, view.Totals)
	require.Equal(t, -1, view.HighestContiguousSeqno)
}

func newTestRouter(store *memory.Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewService(store).RegisterRoutes(r)
	return r
}

func getSession(t *testing.T, r *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGetSessionHandler(t *testing.T) {
	store := memory.NewStore()
	seedSession(t, store, 0, 1)
	r := newTestRouter(store)

	path := fmt.Sprintf("/v1/sessions/%d?session_start=%s",
		testKey.SessionID, url.QueryEscape(testStart.Format(time.RFC3339Nano)))
	w := getSession(t, r, path)

	require.Equal(t, http.StatusOK, w.Code)

	var view SessionView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.True(t, view.Found)
	require.Equal(t, "0-1", view.Coverage)
	require.Equal(t, 1, view.HighestContiguousSeqno)
}

func TestGetSessionHandlerUnknownSessionIsNotAnError(t *testing.T) {
	r := newTestRouter(memory.NewStore())

	path := "/v1/sessions/999?session_start=" + url.QueryEscape(testStart.Format(time.RFC3339Nano))
	w := getSession(t, r, path)

	require.Equal(t, http.StatusOK, w.Code)

	var view SessionView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.False(t, view.Found)
}

func TestGetSessionHandlerBadInput(t *testing.T) {
	r := newTestRouter(memory.NewStore())

	tests := []struct {
		name string
		path string
	}{
		{"non-numeric session id", "/v1/sessions/abc?session_start=2025-06-01T12:00:00Z"},
		{"missing session start", "/v1/sessions/7"},
		{"malformed session start", "/v1/sessions/7?session_start=yesterday"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := getSession(t, r, tc.path)
			require.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}
