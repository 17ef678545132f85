package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// OperationKind тип изменения удаленной коллекции
type OperationKind string

const (
	KindCreate OperationKind = "create"
	KindUpdate OperationKind = "update"
	KindDelete OperationKind = "delete"
)

// Valid reports whether k is one of create, update or delete.
func (k OperationKind) Valid() bool {
	switch k {
	case KindCreate, KindUpdate, KindDelete:
		return true
	}
	return false
}

// ParseKind converts a kind name to an OperationKind.
func ParseKind(name string) (OperationKind, error) {
	k := OperationKind(name)
	if !k.Valid() {
		return "", fmt.Errorf("unknown operation kind %q", name)
	}
	return k, nil
}

// Mutation описывает локальное изменение, которое пользователь только что
// применил к UI и которое нужно доставить в удаленное хранилище.
type Mutation struct {
	Payload     json.RawMessage `json:"payload"`      // Payload локальное представление изменения (для трекера непрозрачно)
	Kind        OperationKind   `json:"kind"`         // Kind create / update / delete
	Collection  string          `json:"collection"`   // Collection имя удаленной коллекции (например, "animals")
	RecordID    string          `json:"record_id"`    // RecordID идентификатор записи
	BaseVersion int64           `json:"base_version"` // BaseVersion версия записи, от которой сделано изменение (0 для create)
}

// PendingOperation is a mutation that the remote store has not confirmed yet.
// Exactly one exists per CorrelationID.
type PendingOperation struct {
	CreatedAt        time.Time       `json:"created_at"`        // CreatedAt время создания (локальное)
	UpdatedAt        time.Time       `json:"updated_at"`        // UpdatedAt время последнего перехода
	Payload          json.RawMessage `json:"payload"`           // Payload данные для отправки
	RemoteRecord     json.RawMessage `json:"remote_record"`     // RemoteRecord удаленная версия записи при конфликте
	CorrelationID    string          `json:"correlation_id"`    // CorrelationID клиентский UUID, никогда не переиспользуется
	Kind             OperationKind   `json:"kind"`              // Kind тип изменения
	Collection       string          `json:"collection"`        // Collection имя коллекции
	RecordID         string          `json:"record_id"`         // RecordID идентификатор записи
	LastError        string          `json:"last_error"`        // LastError последняя причина ошибки
	Seq              int64           `json:"seq"`               // Seq порядок вставки в очередь
	BaseVersion      int64           `json:"base_version"`      // BaseVersion ожидаемая версия удаленной записи
	RemoteVersion    int64           `json:"remote_version"`    // RemoteVersion версия удаленной записи при конфликте
	ConfirmedVersion int64           `json:"confirmed_version"` // ConfirmedVersion версия после подтверждения
	Attempt          int             `json:"attempt"`           // Attempt количество попыток отправки в текущем цикле
	Status           Status          `json:"status"`            // Status текущее состояние синхронизации
	Permanent        bool            `json:"permanent"`         // Permanent отклонено как невалидное, автоповтор запрещен
	RemoteDeleted    bool            `json:"remote_deleted"`    // RemoteDeleted удаленная запись при конфликте удалена
}

// Clone returns a deep copy of the operation.
func (o *PendingOperation) Clone() *PendingOperation {
	c := *o
	c.Payload = cloneRaw(o.Payload)
	c.RemoteRecord = cloneRaw(o.RemoteRecord)
	return &c
}

// Mutation returns the mutation the operation currently carries.
func (o *PendingOperation) Mutation() Mutation {
	return Mutation{
		Kind:        o.Kind,
		Collection:  o.Collection,
		RecordID:    o.RecordID,
		BaseVersion: o.BaseVersion,
		Payload:     cloneRaw(o.Payload),
	}
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}

// OutcomeType classifies the answer of the remote store to one submission.
type OutcomeType int

const (
	// OutcomeSuccess the write was applied
	OutcomeSuccess OutcomeType = iota + 1
	// OutcomeTransient network/timeout/unavailable, same data may succeed later
	OutcomeTransient
	// OutcomeConflict remote record diverged from BaseVersion
	OutcomeConflict
	// OutcomeRejected payload structurally invalid, resubmitting will fail again
	OutcomeRejected
)

func (t OutcomeType) String() string {
	switch t {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomeConflict:
		return "conflict"
	case OutcomeRejected:
		return "rejected"
	}
	return fmt.Sprintf("outcome(%d)", int(t))
}

// Outcome is the result of submitting one operation.
type Outcome struct {
	Record  json.RawMessage // Record подтвержденная запись (success) или текущая удаленная (conflict)
	Reason  string          // Reason причина ошибки
	Version int64           // Version версия Record
	Type    OutcomeType
	Deleted bool // Deleted удаленная запись при конфликте удалена
}

// Success builds a success outcome for the confirmed record.
func Success(record json.RawMessage, version int64) Outcome {
	return Outcome{Type: OutcomeSuccess, Record: record, Version: version}
}

// TransientFailure builds a retryable failure outcome.
func TransientFailure(reason string) Outcome {
	return Outcome{Type: OutcomeTransient, Reason: reason}
}

// ConflictFailure builds a conflict outcome carrying the current remote record.
func ConflictFailure(remote json.RawMessage, version int64, reason string) Outcome {
	return Outcome{Type: OutcomeConflict, Record: remote, Version: version, Reason: reason}
}

// DeletedConflict builds a conflict outcome for a remote record that was
// deleted at version.
func DeletedConflict(remote json.RawMessage, version int64, reason string) Outcome {
	o := ConflictFailure(remote, version, reason)
	o.Deleted = true
	return o
}

// Rejected builds a permanent validation failure outcome.
func Rejected(reason string) Outcome {
	return Outcome{Type: OutcomeRejected, Reason: reason}
}
