package store

// schema creates every table this process owns. Run once per Open inside
// the writer's transaction so concurrent opens of the same file never race
// on table creation.
const schema = `
CREATE TABLE IF NOT EXISTS sequences (
	kind  TEXT PRIMARY KEY,
	value INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sessions (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	session_uuid TEXT NOT NULL,
	start_time   TEXT NOT NULL,
	end_time     TEXT,
	status       TEXT NOT NULL DEFAULT 'running',
	total_cost   REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS features (
	idx            INTEGER PRIMARY KEY,
	category       TEXT NOT NULL DEFAULT 'functional',
	description    TEXT NOT NULL,
	steps          TEXT NOT NULL DEFAULT '[]',
	passes         INTEGER NOT NULL DEFAULT 0,
	verification_skipped INTEGER NOT NULL DEFAULT 0,
	verified_at    TEXT,
	audit_status   TEXT,
	audit_notes    TEXT NOT NULL DEFAULT '[]',
	audit_reviewer TEXT,
	audit_time     TEXT,
	priority       INTEGER NOT NULL DEFAULT 3,
	failure_count  INTEGER NOT NULL DEFAULT 0,
	last_worked    TEXT,
	blocked_by     TEXT NOT NULL DEFAULT '[]',
	blocks         TEXT NOT NULL DEFAULT '[]',
	metadata       TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS artifacts (
	artifact_id        TEXT PRIMARY KEY,
	session_id         INTEGER,
	feature_index      INTEGER,
	type               TEXT NOT NULL,
	stored_path        TEXT NOT NULL,
	checksum           TEXT NOT NULL,
	size_bytes         INTEGER NOT NULL,
	description        TEXT,
	metadata           TEXT NOT NULL DEFAULT '{}',
	parent_artifact_id TEXT,
	created_at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
	checkpoint_id           TEXT PRIMARY KEY,
	timestamp               TEXT NOT NULL,
	trigger                 TEXT NOT NULL,
	session_id              INTEGER NOT NULL,
	git_commit              TEXT NOT NULL,
	git_branch              TEXT NOT NULL,
	git_clean               INTEGER NOT NULL DEFAULT 0,
	feature_status          TEXT NOT NULL DEFAULT '{}',
	features_passing        INTEGER NOT NULL DEFAULT 0,
	features_total          INTEGER NOT NULL DEFAULT 0,
	files_hash              TEXT NOT NULL,
	last_successful_feature INTEGER,
	pending_work            TEXT NOT NULL DEFAULT '[]',
	metadata                TEXT NOT NULL DEFAULT '{}',
	human_note              TEXT
);

CREATE TABLE IF NOT EXISTS decisions (
	decision_id       TEXT PRIMARY KEY,
	timestamp         TEXT NOT NULL,
	session_id        INTEGER NOT NULL,
	type              TEXT NOT NULL,
	context           TEXT NOT NULL,
	choice            TEXT NOT NULL,
	alternatives      TEXT NOT NULL DEFAULT '[]',
	rationale         TEXT NOT NULL,
	confidence        REAL NOT NULL,
	inputs_consulted  TEXT NOT NULL DEFAULT '[]',
	outcome           TEXT,
	outcome_success   INTEGER,
	outcome_timestamp TEXT,
	related_features  TEXT NOT NULL DEFAULT '[]',
	git_commit        TEXT,
	checkpoint_id     TEXT,
	metadata          TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS hypotheses (
	hypothesis_id    TEXT PRIMARY KEY,
	created_at       TEXT NOT NULL,
	created_session  INTEGER NOT NULL,
	type             TEXT NOT NULL,
	observation      TEXT NOT NULL,
	hypothesis       TEXT NOT NULL,
	confidence       REAL NOT NULL,
	status           TEXT NOT NULL DEFAULT 'open',
	context_keywords TEXT NOT NULL DEFAULT '[]',
	related_features TEXT NOT NULL DEFAULT '[]',
	related_errors   TEXT NOT NULL DEFAULT '[]',
	related_files    TEXT NOT NULL DEFAULT '[]',
	evidence_for     TEXT NOT NULL DEFAULT '[]',
	evidence_against TEXT NOT NULL DEFAULT '[]',
	resolved_at      TEXT,
	resolution       TEXT,
	superseded_by    TEXT,
	review_count     INTEGER NOT NULL DEFAULT 0,
	sessions_seen    TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS hot_memory (
	session_id         INTEGER PRIMARY KEY,
	started_at         TEXT NOT NULL,
	current_feature    INTEGER,
	current_task       TEXT NOT NULL DEFAULT '',
	recent_actions     TEXT NOT NULL DEFAULT '[]',
	recent_files       TEXT NOT NULL DEFAULT '[]',
	focus_keywords     TEXT NOT NULL DEFAULT '[]',
	active_errors      TEXT NOT NULL DEFAULT '[]',
	pending_decisions  TEXT NOT NULL DEFAULT '[]',
	current_hypotheses TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS warm_memory (
	session_id           INTEGER PRIMARY KEY,
	started_at           TEXT NOT NULL,
	ended_at             TEXT NOT NULL,
	duration_seconds     REAL NOT NULL DEFAULT 0,
	features_started     INTEGER NOT NULL DEFAULT 0,
	features_completed   INTEGER NOT NULL DEFAULT 0,
	features_regressed   INTEGER NOT NULL DEFAULT 0,
	key_decisions        TEXT NOT NULL DEFAULT '[]',
	errors_encountered   TEXT NOT NULL DEFAULT '[]',
	errors_resolved      TEXT NOT NULL DEFAULT '[]',
	last_feature_worked  INTEGER,
	last_checkpoint_id   TEXT,
	ending_state         TEXT NOT NULL DEFAULT 'completed',
	patterns_discovered  TEXT NOT NULL DEFAULT '[]',
	warnings_for_next    TEXT NOT NULL DEFAULT '[]',
	tool_calls           INTEGER NOT NULL DEFAULT 0,
	escalations          INTEGER NOT NULL DEFAULT 0,
	human_interventions  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS warm_memory_issues (
	issue_id             TEXT PRIMARY KEY,
	created_at           TEXT NOT NULL,
	created_session      INTEGER NOT NULL,
	issue_type           TEXT NOT NULL,
	description          TEXT NOT NULL,
	priority             INTEGER NOT NULL DEFAULT 3,
	related_features     TEXT NOT NULL DEFAULT '[]',
	related_files        TEXT NOT NULL DEFAULT '[]',
	context              TEXT NOT NULL DEFAULT '{}',
	attempted_solutions  TEXT NOT NULL DEFAULT '[]',
	last_seen_session    INTEGER NOT NULL,
	times_encountered    INTEGER NOT NULL DEFAULT 1,
	resolved             INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS warm_memory_patterns (
	pattern_id         TEXT PRIMARY KEY,
	created_at         TEXT NOT NULL,
	created_session    INTEGER NOT NULL,
	pattern_type       TEXT NOT NULL,
	pattern            TEXT NOT NULL,
	context            TEXT NOT NULL,
	success_count      INTEGER NOT NULL DEFAULT 1,
	confidence         REAL NOT NULL DEFAULT 0.5,
	context_keywords   TEXT NOT NULL DEFAULT '[]',
	source_sessions    TEXT NOT NULL DEFAULT '[]',
	last_used_session  INTEGER
);

CREATE TABLE IF NOT EXISTS cold_memory (
	session_id          INTEGER PRIMARY KEY,
	started_at          TEXT NOT NULL,
	ended_at            TEXT NOT NULL,
	ending_state        TEXT NOT NULL,
	features_completed  INTEGER NOT NULL DEFAULT 0,
	features_regressed  INTEGER NOT NULL DEFAULT 0,
	errors_count        INTEGER NOT NULL DEFAULT 0,
	duration_seconds    REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS cold_memory_knowledge (
	knowledge_id     TEXT PRIMARY KEY,
	created_at       TEXT NOT NULL,
	knowledge_type   TEXT NOT NULL,
	title            TEXT NOT NULL,
	description      TEXT NOT NULL,
	context_keywords TEXT NOT NULL DEFAULT '[]',
	source_sessions  TEXT NOT NULL DEFAULT '[]',
	times_verified   INTEGER NOT NULL DEFAULT 1,
	confidence       REAL NOT NULL DEFAULT 0.5,
	last_used        TEXT
);

CREATE TABLE IF NOT EXISTS progress_entries (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id       INTEGER NOT NULL,
	timestamp        TEXT NOT NULL,
	accomplished     TEXT NOT NULL DEFAULT '[]',
	tests_completed  TEXT NOT NULL DEFAULT '[]',
	tests_status     TEXT NOT NULL DEFAULT 'unknown',
	issues_found     TEXT NOT NULL DEFAULT '[]',
	issues_fixed     TEXT NOT NULL DEFAULT '[]',
	next_steps       TEXT NOT NULL DEFAULT '[]',
	notes            TEXT
);

CREATE TABLE IF NOT EXISTS risk_patterns (
	name                      TEXT PRIMARY KEY,
	description               TEXT NOT NULL,
	tool                      TEXT,
	field                     TEXT NOT NULL DEFAULT '',
	pattern                   TEXT NOT NULL,
	level                     INTEGER NOT NULL,
	reversible                INTEGER NOT NULL DEFAULT 1,
	affects_source_of_truth   INTEGER NOT NULL DEFAULT 0,
	has_external_side_effects INTEGER NOT NULL DEFAULT 0,
	requires_approval         INTEGER NOT NULL DEFAULT 0,
	requires_checkpoint       INTEGER NOT NULL DEFAULT 0,
	mitigation                TEXT,
	built_in                  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS risk_assessments (
	id                        INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id                INTEGER NOT NULL,
	timestamp                 TEXT NOT NULL,
	action                    TEXT NOT NULL DEFAULT '',
	tool                      TEXT NOT NULL,
	input_summary             TEXT NOT NULL DEFAULT '',
	level                     INTEGER NOT NULL,
	reversible                INTEGER NOT NULL DEFAULT 1,
	affects_source_of_truth   INTEGER NOT NULL DEFAULT 0,
	has_external_side_effects INTEGER NOT NULL DEFAULT 0,
	concerns                  TEXT NOT NULL DEFAULT '[]',
	requires_approval         INTEGER NOT NULL DEFAULT 0,
	requires_checkpoint       INTEGER NOT NULL DEFAULT 0,
	requires_review           INTEGER NOT NULL DEFAULT 0,
	suggested_mitigation      TEXT,
	matched_rule              TEXT
);

CREATE TABLE IF NOT EXISTS autonomy_state (
	id                      INTEGER PRIMARY KEY CHECK (id = 1),
	configured_level        INTEGER NOT NULL,
	min_level               INTEGER NOT NULL,
	max_level               INTEGER NOT NULL,
	confidence_threshold    REAL NOT NULL DEFAULT 0.5,
	error_demotion_count    INTEGER NOT NULL DEFAULT 3,
	success_promotion_count INTEGER NOT NULL DEFAULT 10,
	auto_adjust             INTEGER NOT NULL DEFAULT 1,
	action_levels           TEXT NOT NULL DEFAULT '{}',
	consecutive_successes   INTEGER NOT NULL DEFAULT 0,
	consecutive_errors      INTEGER NOT NULL DEFAULT 0,
	total_actions           INTEGER NOT NULL DEFAULT 0,
	total_errors            INTEGER NOT NULL DEFAULT 0,
	recent_outcomes         TEXT NOT NULL DEFAULT '[]',
	level_changes           TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS autonomy_decisions (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id          INTEGER NOT NULL,
	timestamp           TEXT NOT NULL,
	action              TEXT NOT NULL,
	tool                TEXT NOT NULL,
	allowed             INTEGER NOT NULL,
	required_level      INTEGER NOT NULL,
	current_level       INTEGER NOT NULL,
	effective_level     INTEGER NOT NULL,
	reason              TEXT NOT NULL,
	alternatives        TEXT NOT NULL DEFAULT '[]',
	requires_approval   INTEGER NOT NULL DEFAULT 0,
	requires_checkpoint INTEGER NOT NULL DEFAULT 0,
	confidence          REAL
);

CREATE TABLE IF NOT EXISTS escalation_rules (
	rule_id           TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	description       TEXT NOT NULL,
	condition_type    TEXT NOT NULL,
	condition_params  TEXT NOT NULL DEFAULT '{}',
	severity          INTEGER NOT NULL,
	injection_type    TEXT NOT NULL,
	message_template  TEXT NOT NULL,
	suggested_actions TEXT NOT NULL DEFAULT '[]',
	auto_pause        INTEGER NOT NULL DEFAULT 0,
	timeout_seconds   INTEGER NOT NULL DEFAULT 0,
	default_action    TEXT,
	built_in          INTEGER NOT NULL DEFAULT 0,
	is_enabled        INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS escalation_log (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id      INTEGER NOT NULL,
	timestamp       TEXT NOT NULL,
	rule_id         TEXT NOT NULL,
	severity        INTEGER NOT NULL,
	message         TEXT NOT NULL,
	context_summary TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS injections (
	point_id            TEXT PRIMARY KEY,
	session_id          INTEGER NOT NULL,
	created_at          TEXT NOT NULL,
	type                TEXT NOT NULL,
	context             TEXT NOT NULL DEFAULT '{}',
	options             TEXT NOT NULL DEFAULT '[]',
	recommendation      TEXT,
	timeout_seconds     INTEGER NOT NULL DEFAULT 0,
	default_on_timeout  TEXT,
	message             TEXT,
	severity            INTEGER NOT NULL DEFAULT 1,
	escalation_rule_id  TEXT,
	status              TEXT NOT NULL DEFAULT 'pending',
	response            TEXT,
	responded_by        TEXT,
	responded_at        TEXT
);

CREATE TABLE IF NOT EXISTS interventions (
	intervention_id     TEXT PRIMARY KEY,
	session_id          INTEGER NOT NULL,
	timestamp           TEXT NOT NULL,
	type                TEXT NOT NULL,
	context_signature   TEXT NOT NULL,
	signature_hash      TEXT NOT NULL,
	context_details     TEXT NOT NULL DEFAULT '{}',
	original_action     TEXT,
	original_rationale  TEXT,
	human_action        TEXT NOT NULL,
	human_rationale     TEXT,
	outcome_tracked     INTEGER NOT NULL DEFAULT 0,
	outcome_success     INTEGER,
	outcome_notes       TEXT,
	pattern_id          TEXT
);

CREATE TABLE IF NOT EXISTS intervention_patterns (
	pattern_id              TEXT PRIMARY KEY,
	created_at              TEXT NOT NULL,
	signature_hash          TEXT NOT NULL,
	context_signature       TEXT NOT NULL,
	recommended_action      TEXT NOT NULL,
	rationale               TEXT,
	intervention_ids        TEXT NOT NULL DEFAULT '[]',
	times_matched           INTEGER NOT NULL DEFAULT 0,
	times_applied           INTEGER NOT NULL DEFAULT 0,
	success_count           INTEGER NOT NULL DEFAULT 0,
	failure_count           INTEGER NOT NULL DEFAULT 0,
	confidence              REAL NOT NULL DEFAULT 0,
	min_confidence_for_auto REAL NOT NULL DEFAULT 0.8,
	auto_apply              INTEGER NOT NULL DEFAULT 0,
	last_matched            TEXT
);

CREATE TABLE IF NOT EXISTS stall_records (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id           INTEGER NOT NULL,
	detected_at          TEXT NOT NULL,
	stall_type           TEXT NOT NULL,
	consecutive_sessions INTEGER NOT NULL DEFAULT 0,
	last_passing_count   INTEGER NOT NULL DEFAULT 0,
	last_git_hash        TEXT,
	blocked_on           TEXT,
	blocked_features     TEXT NOT NULL DEFAULT '[]',
	missing_capability   TEXT,
	resolved             INTEGER NOT NULL DEFAULT 0,
	resolved_at          TEXT,
	resolution           TEXT,
	escalated            INTEGER NOT NULL DEFAULT 0,
	escalated_at         TEXT
);

CREATE TABLE IF NOT EXISTS observability_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_ref TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	type        TEXT NOT NULL,
	time        TEXT NOT NULL,
	data        TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_observability_events_session ON observability_events (session_ref, seq);

CREATE TABLE IF NOT EXISTS paused_sessions (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id     INTEGER NOT NULL,
	paused_at      TEXT NOT NULL,
	reason         TEXT NOT NULL DEFAULT '',
	checkpoint_id  TEXT,
	resumed        INTEGER NOT NULL DEFAULT 0,
	resumed_at     TEXT
);
`
