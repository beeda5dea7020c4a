package sqlite

const schema = `
-- Proxy descriptors
CREATE TABLE IF NOT EXISTS descriptors (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    kind TEXT NOT NULL,

    -- Connection details
    host TEXT NOT NULL,
    port INTEGER NOT NULL,
    username TEXT,
    password TEXT,

    -- Protocol-specific settings (JSON, shape depends on kind)
    settings TEXT,

    -- Health
    status TEXT DEFAULT 'unchecked',
    latency_ms INTEGER,
    checked_at TIMESTAMP,

    -- Geo metadata
    country TEXT,
    city TEXT,
    timezone TEXT,

    tags TEXT,

    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Reachability check results
CREATE TABLE IF NOT EXISTS check_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    descriptor_id TEXT NOT NULL,
    latency_ms INTEGER,
    success BOOLEAN NOT NULL,
    error_message TEXT,
    strategy TEXT DEFAULT 'tcp',
    checked_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (descriptor_id) REFERENCES descriptors(id) ON DELETE CASCADE
);

-- Application settings
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Indexes for performance
CREATE INDEX IF NOT EXISTS idx_descriptors_kind ON descriptors(kind);
CREATE INDEX IF NOT EXISTS idx_descriptors_status ON descriptors(status);
CREATE INDEX IF NOT EXISTS idx_check_results_descriptor_id ON check_results(descriptor_id);
CREATE INDEX IF NOT EXISTS idx_check_results_checked_at ON check_results(checked_at);

-- Triggers for updated_at
CREATE TRIGGER IF NOT EXISTS update_descriptors_timestamp AFTER UPDATE ON descriptors
BEGIN
    UPDATE descriptors SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
END;

CREATE TRIGGER IF NOT EXISTS update_settings_timestamp AFTER UPDATE ON settings
BEGIN
    UPDATE settings SET updated_at = CURRENT_TIMESTAMP WHERE key = NEW.key;
END;
`

// runMigrations executes the database schema
func runMigrations(db *DB) error {
	_, err := db.db.Exec(schema)
	return err
}
