package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID returns a random UUIDv4 string. Media ids (transports, producers,
// consumers) use it unprefixed so they stay opaque to clients.
func NewID() string {
	return uuid.NewString()
}

// GenerateID returns a prefixed random id, e.g. "conn_3f1c...".
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func GenerateConnectionID() string {
	return GenerateID("conn")
}

func GenerateWorkerID(index int) string {
	return fmt.Sprintf("worker-%d-%s", index, uuid.NewString()[:8])
}

// GenerateRequestID generates a unique, roughly time-ordered request ID.
func GenerateRequestID() string {
	return fmt.Sprintf("req_%d_%s", time.Now().UnixNano(), uuid.NewString()[:8])
}
