package utils

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewID_IsUUID(t *testing.T) {
	id := NewID()
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
	assert.NotEqual(t, id, NewID())
}

func TestGenerateID_Prefix(t *testing.T) {
	id := GenerateConnectionID()
	assert.True(t, strings.HasPrefix(id, "conn_"))
	assert.NotContains(t, id, "-")
	assert.NotEqual(t, id, GenerateConnectionID())
}

func TestGenerateWorkerID(t *testing.T) {
	assert.True(t, strings.HasPrefix(GenerateWorkerID(3), "worker-3-"))
}
