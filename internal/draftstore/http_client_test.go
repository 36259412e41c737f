package draftstore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"draftsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quizKey = models.DraftKey{EntityID: "m1", Kind: models.KindQuiz, SubKind: models.SubKindFinalTest}

func TestHTTPClient_Upsert(t *testing.T) {
	var gotPath, gotQuery, gotAuth, gotCorrelation string
	var gotBody upsertRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("subkind")
		gotAuth = r.Header.Get("Authorization")
		gotCorrelation = r.Header.Get("X-Correlation-Id")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", "secret", srv.Client())
	err := c.Upsert(context.Background(), quizKey, json.RawMessage(`{"answers":[1,2]}`))
	require.NoError(t, err)

	assert.Equal(t, "/v1/drafts/m1/quiz", gotPath)
	assert.Equal(t, "final_test", gotQuery)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.NotEmpty(t, gotCorrelation)
	assert.JSONEq(t, `{"answers":[1,2]}`, string(gotBody.Payload))
}

func TestHTTPClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		class    ErrorClass
		received bool
	}{
		{"server error", http.StatusBadGateway, "", ClassTransient, true},
		{"unavailable", http.StatusServiceUnavailable, "", ClassTransient, true},
		{"too many requests", http.StatusTooManyRequests, "", ClassTransient, true},
		{"request timeout", http.StatusRequestTimeout, "", ClassTransient, true},
		{"validation", http.StatusUnprocessableEntity, `{"code":"bad_payload","message":"answers must be a list"}`, ClassApplication, true},
		{"forbidden", http.StatusForbidden, "", ClassApplication, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := NewHTTPClient(srv.URL, "", srv.Client()).Upsert(context.Background(), quizKey, json.RawMessage(`{}`))
			require.Error(t, err)
			assert.Equal(t, tt.class, Classify(err))
			assert.Equal(t, tt.received, ResponseReceived(err))
		})
	}

	t.Run("application error details", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"code":"bad_payload","message":"answers must be a list"}`))
		}))
		defer srv.Close()

		err := NewHTTPClient(srv.URL, "", srv.Client()).Upsert(context.Background(), quizKey, json.RawMessage(`{}`))
		var appErr *ApplicationError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, "bad_payload", appErr.Code)
		assert.Contains(t, err.Error(), "answers must be a list")
	})
}

func TestHTTPClient_NoResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	c := NewHTTPClient(addr, "", &http.Client{Timeout: time.Second})
	err := c.Upsert(context.Background(), quizKey, json.RawMessage(`{}`))
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.False(t, ResponseReceived(err))

	err = c.Ping(context.Background())
	assert.False(t, ResponseReceived(err))
}

func TestHTTPClient_Read(t *testing.T) {
	updated := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/drafts/m1/quiz":
			_ = json.NewEncoder(w).Encode(models.RemoteDraft{Payload: json.RawMessage(`{"a":1}`), UpdatedAt: updated})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", srv.Client())

	got, err := c.Read(context.Background(), quizKey)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, updated.Equal(got.UpdatedAt))
	assert.JSONEq(t, `{"a":1}`, string(got.Payload))

	missing, err := c.Read(context.Background(), models.DraftKey{EntityID: "m1", Kind: models.KindFlashcards})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestHTTPClient_InvalidKey(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1", "", nil)
	err := c.Upsert(context.Background(), models.DraftKey{EntityID: "m1", Kind: models.KindQuiz}, nil)
	assert.Equal(t, ClassApplication, Classify(err))
}

func TestHTTPClient_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	assert.NoError(t, NewHTTPClient(srv.URL, "", srv.Client()).Ping(context.Background()))
}
