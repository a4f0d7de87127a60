package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobSubmitted     = "job.submitted"
	ActionJobStarted       = "job.started"
	ActionJobCompleted     = "job.completed"
	ActionJobFailed        = "job.failed"
	ActionJobRetrying      = "job.retrying"
	ActionJobCacheHit      = "job.cache_hit"
	ActionBatchFinished    = "batch.finished"
	ActionWebhookDelivered = "webhook.delivered"
	ActionWebhookExhausted = "webhook.exhausted"
)

// Audit event categories group related actions.
const (
	CategoryJob     = "conveyor.job"
	CategoryBatch   = "conveyor.batch"
	CategoryWebhook = "conveyor.webhook"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob   = "job"
	ResourceBatch = "batch"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobSubmitted,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobRetrying,
		ActionJobCacheHit,
		ActionBatchFinished,
		ActionWebhookDelivered,
		ActionWebhookExhausted,
	}
}
