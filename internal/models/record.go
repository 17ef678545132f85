package models

import (
	"encoding/json"
	"time"
)

// Record представляет запись фермы в удаленном хранилище.
// Data хранится как JSON объект, сервер не интерпретирует его содержимое.
type Record struct {
	CreatedAt  time.Time       `json:"created_at"` // CreatedAt время создания записи
	UpdatedAt  time.Time       `json:"updated_at"` // UpdatedAt время последнего изменения
	Data       json.RawMessage `json:"data"`       // Data содержимое записи
	Collection string          `json:"collection"` // Collection коллекция (например, "animals", "milkings")
	ID         string          `json:"id"`         // ID идентификатор записи
	UserID     string          `json:"user_id"`    // UserID владелец записи
	Version    int64           `json:"version"`    // Version монотонно растущая версия записи
	Deleted    bool            `json:"deleted"`    // Deleted флаг soft delete
}

// Collection names used by the CLI shortcuts.
const (
	CollectionAnimals   = "animals"
	CollectionMilkings  = "milkings"
	CollectionWeighings = "weighings"
)

// AnimalWeight is a weighing of one animal.
type AnimalWeight struct {
	MeasuredAt time.Time `json:"measured_at"`
	AnimalID   string    `json:"animal_id"`
	WeightKg   float64   `json:"weight"`
}

// MilkingEntry is a single milking of one animal.
type MilkingEntry struct {
	MilkedAt time.Time `json:"milked_at"`
	AnimalID string    `json:"animal_id"`
	Liters   float64   `json:"liters"`
}
