package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateID returns prefix-<16 hex chars>.
func GenerateID(prefix string) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")

	return fmt.Sprintf("%s-%s", prefix, id[:16])
}

// GetCurrentTime returns the current time in UTC
func GetCurrentTime() time.Time {
	return time.Now().UTC()
}
