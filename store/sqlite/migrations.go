package sqlite

// migrations holds the schema DDL, applied in order. Statements are
// idempotent so Migrate can run at every startup.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS conveyor_jobs (
		id              TEXT PRIMARY KEY,
		batch_id        TEXT NOT NULL DEFAULT '',
		kind            TEXT NOT NULL,
		params          BLOB,
		state           TEXT NOT NULL DEFAULT 'pending',
		progress        INTEGER NOT NULL DEFAULT 0,
		result          BLOB,
		error           BLOB,
		owner_id        TEXT NOT NULL DEFAULT '',
		retry_count     INTEGER NOT NULL DEFAULT 0,
		max_retries     INTEGER NOT NULL DEFAULT 3,
		worker_id       TEXT NOT NULL DEFAULT '',
		run_at          TEXT NOT NULL,
		started_at      TEXT,
		completed_at    TEXT,
		heartbeat_at    TEXT,
		timeout         INTEGER NOT NULL DEFAULT 0,
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_conveyor_jobs_claim
		ON conveyor_jobs (kind, run_at ASC)
		WHERE state = 'pending'`,

	`CREATE INDEX IF NOT EXISTS idx_conveyor_jobs_state
		ON conveyor_jobs (state)`,

	`CREATE INDEX IF NOT EXISTS idx_conveyor_jobs_batch
		ON conveyor_jobs (batch_id)`,

	`CREATE INDEX IF NOT EXISTS idx_conveyor_jobs_heartbeat
		ON conveyor_jobs (heartbeat_at)
		WHERE state = 'running'`,

	`CREATE TABLE IF NOT EXISTS conveyor_batches (
		id                   TEXT PRIMARY KEY,
		name                 TEXT NOT NULL DEFAULT '',
		job_ids              BLOB,
		is_active            INTEGER NOT NULL DEFAULT 1,
		archived             INTEGER NOT NULL DEFAULT 0,
		owner_id             TEXT NOT NULL DEFAULT '',
		completed_jobs       INTEGER NOT NULL DEFAULT 0,
		failed_jobs          INTEGER NOT NULL DEFAULT 0,
		webhook_url          TEXT NOT NULL DEFAULT '',
		webhook_state        TEXT NOT NULL DEFAULT '',
		webhook_attempts     INTEGER NOT NULL DEFAULT 0,
		webhook_last_error   TEXT NOT NULL DEFAULT '',
		webhook_started_at   TEXT,
		webhook_delivered_at TEXT,
		created_at           TEXT NOT NULL,
		updated_at           TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_conveyor_batches_archived
		ON conveyor_batches (archived)`,

	`CREATE INDEX IF NOT EXISTS idx_conveyor_batches_owner
		ON conveyor_batches (owner_id)`,

	`CREATE TABLE IF NOT EXISTS conveyor_cache (
		fingerprint     TEXT PRIMARY KEY,
		payload         BLOB,
		artifacts       BLOB,
		created_at      TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS conveyor_workers (
		id              TEXT PRIMARY KEY,
		hostname        TEXT NOT NULL DEFAULT '',
		kinds           BLOB,
		concurrency     INTEGER NOT NULL DEFAULT 0,
		state           TEXT NOT NULL DEFAULT 'active',
		last_seen       TEXT NOT NULL,
		metadata        BLOB,
		created_at      TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_conveyor_workers_liveness
		ON conveyor_workers (state, last_seen)`,
}
