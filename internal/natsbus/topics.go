package natsbus

import "fmt"

// Topic patterns for NATS pub/sub communication.

// TopicJobEvents carries the status stream of one job.
func TopicJobEvents(tenantID, jobID string) string {
	return fmt.Sprintf("events.job.%s.%s", tenantID, jobID)
}

// TopicTenantEvents matches every job event of one tenant.
func TopicTenantEvents(tenantID string) string {
	return fmt.Sprintf("events.job.%s.*", tenantID)
}

// TopicTool is the request-reply subject a NATS-backed tool provider
// listens on.
func TopicTool(tool string) string {
	return fmt.Sprintf("tools.%s", tool)
}

const (
	TopicEventsAll  = "events.>"
	TopicEventsJobs = "events.job.>"
)
