package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/iudanet/farmkeeper/internal/models"
	"github.com/iudanet/farmkeeper/internal/server/storage"
	"github.com/iudanet/farmkeeper/internal/validation"
	"github.com/iudanet/farmkeeper/pkg/api"
)

// RecordsHandler serves record operations and reads
type RecordsHandler struct {
	logger  *slog.Logger
	storage storage.RecordStorage
}

// NewRecordsHandler creates a new records handler
func NewRecordsHandler(logger *slog.Logger, storage storage.RecordStorage) *RecordsHandler {
	return &RecordsHandler{
		logger:  logger,
		storage: storage,
	}
}

// Submit обрабатывает POST /api/v1/operations
//
//	200 операция применена (или уже была применена с этим correlation_id)
//	409 версия не совпала, в теле текущая запись
//	404 update/delete несуществующей записи
//	422 операция некорректна, повтор без исправления бесполезен
func (h *RecordsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		h.logger.Error("User ID not found in context")
		sendError(h.logger, w, "unauthorized", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, validation.MaxPayloadSize+4096)
	var req api.OperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "Failed to decode operation", slog.Any("error", err))
		sendError(h.logger, w, "invalid request body", http.StatusBadRequest)
		return
	}

	op, err := toOperation(req)
	if err != nil {
		h.logger.WarnContext(ctx, "Operation rejected",
			slog.String("correlation_id", req.CorrelationID),
			slog.Any("error", err))
		sendJSON(h.logger, w, api.OperationResponse{Error: err.Error()}, http.StatusUnprocessableEntity)
		return
	}

	res, err := h.storage.ApplyOperation(ctx, userID, op)
	if err != nil {
		var conflict *storage.ConflictError
		switch {
		case errors.As(err, &conflict):
			h.logger.InfoContext(ctx, "Operation conflicts with remote record",
				slog.String("correlation_id", op.CorrelationID),
				slog.String("reason", conflict.Reason))
			resp := api.OperationResponse{Error: conflict.Reason}
			if conflict.Current != nil {
				resp.Record = toAPIRecord(conflict.Current)
			}
			sendJSON(h.logger, w, resp, http.StatusConflict)
		case errors.Is(err, storage.ErrRecordNotFound):
			sendJSON(h.logger, w, api.OperationResponse{Error: "record not found"}, http.StatusNotFound)
		case errors.Is(err, storage.ErrReplayMismatch):
			sendJSON(h.logger, w, api.OperationResponse{Error: err.Error()}, http.StatusUnprocessableEntity)
		default:
			h.logger.ErrorContext(ctx, "Failed to apply operation",
				slog.String("correlation_id", op.CorrelationID),
				slog.Any("error", err))
			sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		}
		return
	}

	h.logger.InfoContext(ctx, "Operation applied",
		slog.String("correlation_id", op.CorrelationID),
		slog.String("user_id", userID),
		slog.String("kind", string(op.Kind)),
		slog.String("collection", op.Collection),
		slog.String("record_id", op.RecordID),
		slog.Int64("version", res.Record.Version),
		slog.Bool("replayed", res.Replayed))

	sendJSON(h.logger, w, api.OperationResponse{
		Record:   toAPIRecord(res.Record),
		Replayed: res.Replayed,
	}, http.StatusOK)
}

// Get обрабатывает GET /api/v1/records/{collection}/{id}
func (h *RecordsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		sendError(h.logger, w, "unauthorized", http.StatusUnauthorized)
		return
	}

	collection := r.PathValue("collection")
	id := r.PathValue("id")
	if err := validation.ValidateCollection(collection); err != nil {
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validation.ValidateRecordID(id); err != nil {
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
		return
	}

	rec, err := h.storage.GetRecord(ctx, userID, collection, id)
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			sendError(h.logger, w, "record not found", http.StatusNotFound)
			return
		}
		h.logger.ErrorContext(ctx, "Failed to get record", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	sendJSON(h.logger, w, toAPIRecord(rec), http.StatusOK)
}

// List обрабатывает GET /api/v1/records/{collection}
func (h *RecordsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		sendError(h.logger, w, "unauthorized", http.StatusUnauthorized)
		return
	}

	collection := r.PathValue("collection")
	if err := validation.ValidateCollection(collection); err != nil {
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
		return
	}

	records, err := h.storage.ListRecords(ctx, userID, collection)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to list records", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	resp := api.RecordList{Records: make([]api.Record, 0, len(records))}
	for _, rec := range records {
		resp.Records = append(resp.Records, *toAPIRecord(rec))
	}

	sendJSON(h.logger, w, resp, http.StatusOK)
}

// toOperation проверяет запрос и превращает его в операцию хранилища
func toOperation(req api.OperationRequest) (storage.Operation, error) {
	if req.CorrelationID == "" {
		return storage.Operation{}, fmt.Errorf("correlation_id is required")
	}
	kind, err := models.ParseKind(req.Kind)
	if err != nil {
		return storage.Operation{}, err
	}
	if err := validation.ValidateCollection(req.Collection); err != nil {
		return storage.Operation{}, err
	}
	if err := validation.ValidateRecordID(req.RecordID); err != nil {
		return storage.Operation{}, err
	}
	if req.BaseVersion < 0 {
		return storage.Operation{}, fmt.Errorf("base_version must not be negative")
	}

	switch kind {
	case models.KindCreate, models.KindUpdate:
		if err := validation.ValidatePayload(req.Payload); err != nil {
			return storage.Operation{}, err
		}
	case models.KindDelete:
		// payload для delete игнорируется
		req.Payload = nil
	}
	if kind != models.KindCreate && req.BaseVersion == 0 {
		return storage.Operation{}, fmt.Errorf("base_version is required for %s", kind)
	}

	return storage.Operation{
		CorrelationID: req.CorrelationID,
		Kind:          kind,
		Collection:    req.Collection,
		RecordID:      req.RecordID,
		BaseVersion:   req.BaseVersion,
		Payload:       req.Payload,
	}, nil
}

func toAPIRecord(rec *models.Record) *api.Record {
	return &api.Record{
		Collection: rec.Collection,
		ID:         rec.ID,
		Data:       rec.Data,
		Version:    rec.Version,
		Deleted:    rec.Deleted,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
}
