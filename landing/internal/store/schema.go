package store

// Schema creates the lander tables. Timestamps are milliseconds since epoch.
// Invariants held by the database rather than by convention:
//   - at most one running experiment (partial unique index);
//   - at most one non-killed champion per experiment (partial unique index);
//   - conversions never exceed impressions (CHECK);
//   - killed_at is terminal and events are append-only (triggers).
//
// publishes is a sequence bumped on every snapshot publish; page servers
// watch it to drop their cached snapshot.
const Schema = `
CREATE TABLE IF NOT EXISTS experiments (
	id         TEXT PRIMARY KEY,
	element    TEXT NOT NULL,
	status     TEXT NOT NULL CHECK (status IN ('running', 'stopped')),
	created_at INTEGER NOT NULL,
	stopped_at INTEGER
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_experiments_one_running
	ON experiments (status) WHERE status = 'running';

CREATE TABLE IF NOT EXISTS variants (
	id            TEXT PRIMARY KEY,
	experiment_id TEXT NOT NULL REFERENCES experiments (id),
	slot          TEXT NOT NULL CHECK (slot IN ('champion', 'challenger', 'explorer')),
	weight        INTEGER NOT NULL DEFAULT 0 CHECK (weight >= 0),
	content       TEXT NOT NULL DEFAULT '{}',
	impressions   INTEGER NOT NULL DEFAULT 0 CHECK (impressions >= 0),
	conversions   INTEGER NOT NULL DEFAULT 0 CHECK (conversions >= 0 AND conversions <= impressions),
	confidence    REAL CHECK (confidence IS NULL OR (confidence >= 0 AND confidence <= 1)),
	promoted_at   INTEGER,
	killed_at     INTEGER,
	created_at    INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_variants_one_champion
	ON variants (experiment_id) WHERE slot = 'champion' AND killed_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_variants_experiment ON variants (experiment_id, killed_at);

CREATE TRIGGER IF NOT EXISTS variants_killed_terminal
BEFORE UPDATE OF killed_at ON variants
WHEN OLD.killed_at IS NOT NULL
BEGIN
	SELECT RAISE(ABORT, 'variant already killed');
END;

CREATE TABLE IF NOT EXISTS events (
	id            TEXT PRIMARY KEY,
	experiment_id TEXT NOT NULL REFERENCES experiments (id),
	variant_id    TEXT REFERENCES variants (id),
	type          TEXT NOT NULL,
	details       TEXT NOT NULL DEFAULT '{}',
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_experiment ON events (experiment_id, created_at);

CREATE TRIGGER IF NOT EXISTS events_no_update
BEFORE UPDATE ON events
BEGIN
	SELECT RAISE(ABORT, 'events are append-only');
END;

CREATE TRIGGER IF NOT EXISTS events_no_delete
BEFORE DELETE ON events
BEGIN
	SELECT RAISE(ABORT, 'events are append-only');
END;

CREATE TABLE IF NOT EXISTS publishes (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	experiment_id TEXT NOT NULL DEFAULT '',
	active        INTEGER NOT NULL,
	variants      INTEGER NOT NULL,
	published_at  INTEGER NOT NULL
);
`
