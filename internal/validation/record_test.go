package validation

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateCollection(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "animals", input: "animals"},
		{name: "with dash and digits", input: "milk-2025"},
		{name: "empty", input: "", wantErr: true},
		{name: "uppercase", input: "Animals", wantErr: true},
		{name: "slash", input: "animals/cows", wantErr: true},
		{name: "starts with digit", input: "1animals", wantErr: true},
		{name: "too long", input: "a" + strings.Repeat("b", 64), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCollection(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRecordID(t *testing.T) {
	assert.NoError(t, ValidateRecordID("cow-7"))
	assert.NoError(t, ValidateRecordID("6f1c2a9e-3b1d-4f7a-9a3e-2d6c7b8e9f01"))
	assert.Error(t, ValidateRecordID(""))
	assert.Error(t, ValidateRecordID("cow 7"))
	assert.Error(t, ValidateRecordID("../etc"))
}

func TestValidatePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload json.RawMessage
		wantErr bool
	}{
		{name: "object", payload: json.RawMessage(`{"weight":400}`)},
		{name: "object with spaces", payload: json.RawMessage(" {\"liters\": 12}\n")},
		{name: "empty", payload: nil, wantErr: true},
		{name: "array", payload: json.RawMessage(`[1,2]`), wantErr: true},
		{name: "number", payload: json.RawMessage(`42`), wantErr: true},
		{name: "broken", payload: json.RawMessage(`{"weight":`), wantErr: true},
		{name: "too large", payload: json.RawMessage(`{"x":"` + strings.Repeat("a", MaxPayloadSize) + `"}`), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePayload(tt.payload)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
