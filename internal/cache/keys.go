package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobKey(clientID, jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s:%s", clientID, jobID)
}

func LatestJobKey(clientID uuid.UUID) string {
	return fmt.Sprintf("job:%s:latest", clientID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
