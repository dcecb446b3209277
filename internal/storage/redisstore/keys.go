package redisstore

import (
	"fmt"
	"time"

	"github.com/quarryd/quarry/internal/domain"
)

// taskTTL bounds how long a task blob and its logs live in Redis.
// Terminal tasks past the retention window are removed earlier by GC.
const taskTTL = 7 * 24 * time.Hour

const (
	scraperIDsKey    = "scraper_ids"
	taskKeyPrefix    = "tasks:"
	scraperKeyPrefix = "scrapers:"
)

func scraperKey(id string) string {
	return scraperKeyPrefix + id
}

func taskKey(id string) string {
	return taskKeyPrefix + id
}

func queueKey(priority domain.Priority) string {
	return fmt.Sprintf("queue:%d", priority)
}

func byScraperKey(scraperID string) string {
	return "tasks:by_scraper:" + scraperID
}

func leaseKey(name string) string {
	return "leases:" + name
}

func logsKey(taskID string) string {
	return "logs:" + taskID
}

func logsNextIDKey(taskID string) string {
	return "logs:" + taskID + ":next_id"
}
