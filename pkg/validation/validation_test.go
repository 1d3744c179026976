package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRoomName(t *testing.T) {
	tests := []struct {
		name    string
		room    string
		wantErr bool
	}{
		{"simple", "R1", false},
		{"with spaces", "weekly sync", false},
		{"unicode", "Комната", false},
		{"empty", "", true},
		{"too long", strings.Repeat("r", MaxRoomNameLength+1), true},
		{"slash", "a/b", true},
		{"backslash", `a\b`, true},
		{"dot prefix", "..", true},
		{"control char", "room\x00", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRoomName(tt.room)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateDisplayName(t *testing.T) {
	tests := []struct {
		name    string
		user    string
		wantErr bool
	}{
		{"simple", "alice", false},
		{"spaces inside", "Ada Lovelace", false},
		{"blank", "   ", true},
		{"too long", strings.Repeat("a", MaxDisplayNameLength+1), true},
		{"newline", "bob\nsmith", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDisplayName(tt.user)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateMediaID(t *testing.T) {
	assert.NoError(t, ValidateMediaID("9b2f0c4e-1d6a-4c7e-8f3b-2a5d6e7f8a9b", "producerId"))
	assert.Error(t, ValidateMediaID("", "producerId"))
	assert.Error(t, ValidateMediaID("id with space", "producerId"))
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, ValidateURL("ws://localhost:8081/ws"))
	assert.NoError(t, ValidateURL("https://example.com"))
	assert.Error(t, ValidateURL("ftp://example.com"))
	assert.Error(t, ValidateURL("ws://"))
	assert.Error(t, ValidateURL(""))
}
