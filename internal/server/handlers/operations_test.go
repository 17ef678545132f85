package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/farmkeeper/internal/models"
	"github.com/iudanet/farmkeeper/internal/server/storage"
	"github.com/iudanet/farmkeeper/internal/server/storage/sqlite"
	"github.com/iudanet/farmkeeper/pkg/api"
)

// setupRecordsHandler создает handler поверх in-memory SQLite с одним пользователем
func setupRecordsHandler(t *testing.T) *RecordsHandler {
	t.Helper()
	ctx := context.Background()

	s, err := sqlite.New(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.CreateUser(ctx, &models.User{
		ID:           "u1",
		Username:     "farmer",
		PasswordHash: "hash",
		CreatedAt:    time.Now(),
	}))

	return NewRecordsHandler(setupTestLogger(), s)
}

func submit(t *testing.T, h *RecordsHandler, userID string, req any) (*httptest.ResponseRecorder, api.OperationResponse) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(req))

	r := httptest.NewRequest(http.MethodPost, "/api/v1/operations", &buf)
	if userID != "" {
		r = r.WithContext(WithUser(r.Context(), userID, "farmer"))
	}
	w := httptest.NewRecorder()
	h.Submit(w, r)

	var resp api.OperationResponse
	if w.Header().Get("Content-Type") == "application/json" {
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
	}
	return w, resp
}

func weighRequest(correlationID, kind string, base int64, weight string) api.OperationRequest {
	return api.OperationRequest{
		CorrelationID: correlationID,
		Kind:          kind,
		Collection:    models.CollectionAnimals,
		RecordID:      "cow-7",
		BaseVersion:   base,
		Payload:       json.RawMessage(`{"weight":` + weight + `}`),
	}
}

func TestRecordsHandler_Submit_Lifecycle(t *testing.T) {
	h := setupRecordsHandler(t)

	w, resp := submit(t, h, "u1", weighRequest("c1", api.KindCreate, 0, "400"))
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, resp.Record)
	assert.Equal(t, int64(1), resp.Record.Version)

	w, resp = submit(t, h, "u1", weighRequest("c2", api.KindUpdate, 1, "410"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(2), resp.Record.Version)
	assert.JSONEq(t, `{"weight":410}`, string(resp.Record.Data))

	// Второе устройство редактирует от устаревшей версии
	w, resp = submit(t, h, "u1", weighRequest("c3", api.KindUpdate, 1, "999"))
	require.Equal(t, http.StatusConflict, w.Code)
	require.NotNil(t, resp.Record)
	assert.Equal(t, int64(2), resp.Record.Version)
	assert.JSONEq(t, `{"weight":410}`, string(resp.Record.Data))
	assert.NotEmpty(t, resp.Error)

	w, resp = submit(t, h, "u1", api.OperationRequest{
		CorrelationID: "c4",
		Kind:          api.KindDelete,
		Collection:    models.CollectionAnimals,
		RecordID:      "cow-7",
		BaseVersion:   2,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Record.Deleted)
}

func TestRecordsHandler_Submit_ReplayAfterLostResponse(t *testing.T) {
	h := setupRecordsHandler(t)

	w, first := submit(t, h, "u1", weighRequest("c1", api.KindCreate, 0, "400"))
	require.Equal(t, http.StatusOK, w.Code)

	w, again := submit(t, h, "u1", weighRequest("c1", api.KindCreate, 0, "400"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, again.Replayed)
	assert.False(t, first.Replayed)
	assert.Equal(t, first.Record.Version, again.Record.Version)
}

func TestRecordsHandler_Submit_Rejections(t *testing.T) {
	tests := []struct {
		request    any
		name       string
		wantStatus int
	}{
		{
			name:       "missing correlation id",
			request:    weighRequest("", api.KindCreate, 0, "400"),
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "unknown kind",
			request:    weighRequest("c1", "upsert", 0, "400"),
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "bad collection",
			request: api.OperationRequest{
				CorrelationID: "c1", Kind: api.KindCreate, Collection: "Animals!", RecordID: "cow-7",
				Payload: json.RawMessage(`{}`),
			},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "payload is not an object",
			request: api.OperationRequest{
				CorrelationID: "c1", Kind: api.KindCreate, Collection: "animals", RecordID: "cow-7",
				Payload: json.RawMessage(`[1,2]`),
			},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "update without base version",
			request:    weighRequest("c1", api.KindUpdate, 0, "400"),
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "update of missing record",
			request:    weighRequest("c1", api.KindUpdate, 1, "400"),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "malformed body",
			request:    "{",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setupRecordsHandler(t)
			w, _ := submit(t, h, "u1", tt.request)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestRecordsHandler_Submit_Unauthenticated(t *testing.T) {
	h := setupRecordsHandler(t)
	w, _ := submit(t, h, "", weighRequest("c1", api.KindCreate, 0, "400"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// failingRecords всегда возвращает ошибку хранилища
type failingRecords struct{}

func (failingRecords) ApplyOperation(context.Context, string, storage.Operation) (*storage.ApplyResult, error) {
	return nil, errors.New("database is locked")
}

func (failingRecords) GetRecord(context.Context, string, string, string) (*models.Record, error) {
	return nil, errors.New("database is locked")
}

func (failingRecords) ListRecords(context.Context, string, string) ([]*models.Record, error) {
	return nil, errors.New("database is locked")
}

func TestRecordsHandler_StorageFailureIsServerError(t *testing.T) {
	h := NewRecordsHandler(setupTestLogger(), failingRecords{})

	w, _ := submit(t, h, "u1", weighRequest("c1", api.KindCreate, 0, "400"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/records/animals/cow-7", nil)
	r.SetPathValue("collection", "animals")
	r.SetPathValue("id", "cow-7")
	r = r.WithContext(WithUser(r.Context(), "u1", "farmer"))
	rec := httptest.NewRecorder()
	h.Get(rec, r)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRecordsHandler_GetAndList(t *testing.T) {
	h := setupRecordsHandler(t)

	w, _ := submit(t, h, "u1", weighRequest("c1", api.KindCreate, 0, "400"))
	require.Equal(t, http.StatusOK, w.Code)

	get := func(collection, id string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/records/"+collection+"/"+id, nil)
		r.SetPathValue("collection", collection)
		r.SetPathValue("id", id)
		r = r.WithContext(WithUser(r.Context(), "u1", "farmer"))
		rec := httptest.NewRecorder()
		h.Get(rec, r)
		return rec
	}

	rec := get("animals", "cow-7")
	require.Equal(t, http.StatusOK, rec.Code)
	var record api.Record
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&record))
	assert.Equal(t, int64(1), record.Version)

	assert.Equal(t, http.StatusNotFound, get("animals", "cow-8").Code)
	assert.Equal(t, http.StatusBadRequest, get("Animals", "cow-7").Code)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/records/animals", nil)
	r.SetPathValue("collection", "animals")
	r = r.WithContext(WithUser(r.Context(), "u1", "farmer"))
	listRec := httptest.NewRecorder()
	h.List(listRec, r)

	require.Equal(t, http.StatusOK, listRec.Code)
	var list api.RecordList
	require.NoError(t, json.NewDecoder(listRec.Body).Decode(&list))
	require.Len(t, list.Records, 1)
	assert.Equal(t, "cow-7", list.Records[0].ID)
}
