package postgresql

// migrations returns the schema migrations keyed by version.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS automations (
				code VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				headline TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				dependencies JSONB NOT NULL DEFAULT '[]',
				status VARCHAR(50) NOT NULL DEFAULT 'operational',
				status_label VARCHAR(255) NOT NULL DEFAULT '',
				connected BOOLEAN NOT NULL DEFAULT FALSE,
				last_run TIMESTAMP WITH TIME ZONE,
				position_x DOUBLE PRECISION,
				position_y DOUBLE PRECISION,
				webhook_url TEXT NOT NULL DEFAULT '',
				webhook_path TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS schedules (
				code VARCHAR(255) PRIMARY KEY,
				enabled BOOLEAN NOT NULL DEFAULT FALSE,
				frequency VARCHAR(50) NOT NULL DEFAULT 'daily',
				time_of_day VARCHAR(5) NOT NULL DEFAULT '09:00',
				day_of_week VARCHAR(20) NOT NULL DEFAULT 'monday',
				timezone VARCHAR(100) NOT NULL DEFAULT 'UTC'
			);

			CREATE TABLE IF NOT EXISTS runs (
				code VARCHAR(255) NOT NULL,
				ok BOOLEAN NOT NULL DEFAULT FALSE,
				http_status INTEGER NOT NULL DEFAULT 0,
				status_text VARCHAR(255) NOT NULL DEFAULT '',
				webhook_url TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE NOT NULL,
				duration_ms BIGINT NOT NULL DEFAULT 0,
				response_body TEXT NOT NULL DEFAULT '',
				error TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (code, finished_at)
			);

			CREATE INDEX IF NOT EXISTS idx_runs_code_finished_at
				ON runs (code, finished_at DESC);
		`,
	}
}
