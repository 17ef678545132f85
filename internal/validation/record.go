package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
)

var (
	// CollectionPattern имя коллекции: строчные латинские буквы, цифры, "_" и "-", 1-64 символа
	CollectionPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,63}$`)
	// RecordIDPattern идентификатор записи: без пробелов и "/", 1-128 символов
	RecordIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// MaxPayloadSize максимальный размер данных записи
const MaxPayloadSize = 64 << 10

// ValidateCollection проверяет имя коллекции
func ValidateCollection(name string) error {
	if name == "" {
		return fmt.Errorf("collection cannot be empty")
	}
	if !CollectionPattern.MatchString(name) {
		return fmt.Errorf("invalid collection name %q", name)
	}
	return nil
}

// ValidateRecordID проверяет идентификатор записи
func ValidateRecordID(id string) error {
	if id == "" {
		return fmt.Errorf("record id cannot be empty")
	}
	if !RecordIDPattern.MatchString(id) {
		return fmt.Errorf("invalid record id %q", id)
	}
	return nil
}

// ValidatePayload проверяет, что данные записи являются JSON объектом
func ValidatePayload(payload json.RawMessage) error {
	if len(payload) == 0 {
		return fmt.Errorf("payload cannot be empty")
	}
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("payload exceeds %d bytes", MaxPayloadSize)
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return fmt.Errorf("payload must be a JSON object")
	}
	return nil
}
