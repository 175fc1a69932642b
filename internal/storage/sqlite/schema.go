package sqlite

const schemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id             TEXT PRIMARY KEY,
	username           TEXT NOT NULL,
	status             TEXT NOT NULL,
	message            TEXT NOT NULL DEFAULT '',
	progress           INTEGER NOT NULL DEFAULT 0,
	num_input_granules INTEGER NOT NULL DEFAULT 0,
	is_async           INTEGER NOT NULL DEFAULT 0,
	request_text       TEXT NOT NULL DEFAULT '',
	error_count        INTEGER NOT NULL DEFAULT 0,
	ignore_errors      INTEGER NOT NULL DEFAULT 0,
	max_errors         INTEGER NOT NULL DEFAULT 0,
	created_at         INTEGER NOT NULL,
	updated_at         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS job_links (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id    TEXT NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
	href      TEXT NOT NULL,
	rel       TEXT NOT NULL,
	type      TEXT NOT NULL DEFAULT '',
	title     TEXT NOT NULL DEFAULT '',
	bbox      TEXT NOT NULL DEFAULT '',
	temporal  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_job_links_job_id ON job_links(job_id);

CREATE TABLE IF NOT EXISTS job_logs (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id    TEXT NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
	level     TEXT NOT NULL,
	message   TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_job_logs_job_id ON job_logs(job_id);

CREATE TABLE IF NOT EXISTS workflow_steps (
	job_id                 TEXT NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
	step_index             INTEGER NOT NULL,
	service_id             TEXT NOT NULL,
	operation              TEXT NOT NULL DEFAULT '',
	work_item_count        INTEGER NOT NULL DEFAULT 0,
	has_aggregated_output  INTEGER NOT NULL DEFAULT 0,
	batch_size             INTEGER NOT NULL DEFAULT 0,
	max_batch_size_bytes   INTEGER NOT NULL DEFAULT 0,
	is_sequential          INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (job_id, step_index)
);

CREATE TABLE IF NOT EXISTS work_items (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id               TEXT NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
	service_id           TEXT NOT NULL,
	workflow_step_index  INTEGER NOT NULL,
	status               TEXT NOT NULL,
	stac_catalog_location TEXT NOT NULL DEFAULT '',
	scroll_id            TEXT NOT NULL DEFAULT '',
	results_json         TEXT NOT NULL DEFAULT '[]',
	error_message        TEXT NOT NULL DEFAULT '',
	output_item_sizes_json TEXT NOT NULL DEFAULT '[]',
	started_at           INTEGER,
	updated_at           INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_work_items_job_step ON work_items(job_id, workflow_step_index);
CREATE INDEX IF NOT EXISTS idx_work_items_status ON work_items(status);
CREATE INDEX IF NOT EXISTS idx_work_items_job_service_status ON work_items(job_id, service_id, status);

CREATE TABLE IF NOT EXISTS user_work (
	job_id        TEXT NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
	service_id    TEXT NOT NULL,
	username      TEXT NOT NULL,
	ready_count   INTEGER NOT NULL DEFAULT 0,
	running_count INTEGER NOT NULL DEFAULT 0,
	last_worked   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (job_id, service_id, username)
);
CREATE INDEX IF NOT EXISTS idx_user_work_service_ready ON user_work(service_id, ready_count);

-- per-step aggregation batching state (spec §4.4): the currently-open,
-- not-yet-sealed batch for a (job, step) pair.
CREATE TABLE IF NOT EXISTS aggregation_batches (
	job_id       TEXT NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
	step_index   INTEGER NOT NULL,
	item_count   INTEGER NOT NULL DEFAULT 0,
	total_bytes  INTEGER NOT NULL DEFAULT 0,
	inputs_json  TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (job_id, step_index)
);
`
