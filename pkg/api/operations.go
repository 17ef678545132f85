package api

import (
	"encoding/json"
	"time"
)

// Operation kinds accepted by POST /api/v1/operations.
const (
	KindCreate = "create"
	KindUpdate = "update"
	KindDelete = "delete"
)

// OperationRequest одна операция записи, отправляемая клиентом.
// CorrelationID делает повторную отправку идемпотентной.
type OperationRequest struct {
	Payload       json.RawMessage `json:"payload,omitempty"` // содержимое записи (не нужно для delete)
	CorrelationID string          `json:"correlation_id"`    // клиентский UUID операции
	Kind          string          `json:"kind"`              // create / update / delete
	Collection    string          `json:"collection"`        // имя коллекции
	RecordID      string          `json:"record_id"`         // идентификатор записи
	BaseVersion   int64           `json:"base_version"`      // версия, от которой сделано изменение
}

// Record запись в том виде, в каком ее хранит сервер
type Record struct {
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Data       json.RawMessage `json:"data"`
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Version    int64           `json:"version"`
	Deleted    bool            `json:"deleted"`
}

// OperationResponse тело ответов 200 (подтверждение) и 409 (конфликт).
// При конфликте Record содержит текущую удаленную запись, если она существует.
type OperationResponse struct {
	Record   *Record `json:"record,omitempty"`
	Error    string  `json:"error,omitempty"`
	Replayed bool    `json:"replayed,omitempty"` // операция уже была применена ранее
}

// PresenceMessage сообщение, которое сервер отправляет по websocket /api/v1/presence
type PresenceMessage struct {
	ServerTime time.Time `json:"server_time"`
	Type       string    `json:"type"` // "hello" или "ping"
	UserID     string    `json:"user_id,omitempty"`
}

// RecordList ответ GET /api/v1/records/{collection}
type RecordList struct {
	Records []Record `json:"records"`
}
