package database

// The users, groups and project tables belong to the dashboard. They are
// created here only when missing so a fresh dev database is usable.

var mysqlDialect = Dialect{
	Name: "mysql",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
			channel_key VARCHAR(96) NOT NULL,
			channel_kind VARCHAR(16) NOT NULL,
			scope_id BIGINT NOT NULL,
			peer_id BIGINT NOT NULL DEFAULT 0,
			sub_channel VARCHAR(32) NOT NULL DEFAULT '',
			author_id BIGINT NOT NULL,
			author_name VARCHAR(255) NOT NULL DEFAULT '',
			author_role VARCHAR(64) NOT NULL DEFAULT '',
			author_avatar VARCHAR(512) NOT NULL DEFAULT '',
			body TEXT NOT NULL,
			message_kind VARCHAR(16) NOT NULL,
			attachment_name VARCHAR(255) NOT NULL DEFAULT '',
			attachment_size BIGINT NOT NULL DEFAULT 0,
			attachment_type VARCHAR(128) NOT NULL DEFAULT '',
			attachment_ref VARCHAR(512) NOT NULL DEFAULT '',
			attachment_url VARCHAR(1024) NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			edited TINYINT(1) NOT NULL DEFAULT 0,
			edited_at BIGINT NOT NULL DEFAULT 0,
			deleted VARCHAR(16) NOT NULL DEFAULT 'none',
			client_ref VARCHAR(64) NULL,
			INDEX idx_messages_channel (channel_key, created_at, id),
			INDEX idx_messages_direct (channel_kind, scope_id, peer_id),
			UNIQUE KEY uq_messages_client_ref (channel_key, author_id, client_ref)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS read_markers (
			user_id BIGINT NOT NULL,
			channel_key VARCHAR(96) NOT NULL,
			last_read_id BIGINT NOT NULL DEFAULT 0,
			read_at BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, channel_key)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS users (
			user_id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
			email VARCHAR(255) NOT NULL DEFAULT '',
			first_name VARCHAR(255) NOT NULL DEFAULT '',
			last_name VARCHAR(255) NOT NULL DEFAULT '',
			role VARCHAR(64) NOT NULL DEFAULT 'staff',
			avatar_url VARCHAR(512) NOT NULL DEFAULT ''
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS chat_groups (
			group_id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(255) NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS chat_group_members (
			group_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			PRIMARY KEY (group_id, user_id)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS project_clients (
			project_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			PRIMARY KEY (project_id, user_id)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS project_assignments (
			project_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			role VARCHAR(64) NOT NULL,
			PRIMARY KEY (project_id, user_id, role)
		) ENGINE=InnoDB`,
	},
	UpsertMarker: `INSERT INTO read_markers (user_id, channel_key, last_read_id, read_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			last_read_id = GREATEST(last_read_id, VALUES(last_read_id)),
			read_at = VALUES(read_at)`,
}

var sqliteDialect = Dialect{
	Name: "sqlite3",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			channel_key TEXT NOT NULL,
			channel_kind TEXT NOT NULL,
			scope_id INTEGER NOT NULL,
			peer_id INTEGER NOT NULL DEFAULT 0,
			sub_channel TEXT NOT NULL DEFAULT '',
			author_id INTEGER NOT NULL,
			author_name TEXT NOT NULL DEFAULT '',
			author_role TEXT NOT NULL DEFAULT '',
			author_avatar TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL,
			message_kind TEXT NOT NULL,
			attachment_name TEXT NOT NULL DEFAULT '',
			attachment_size INTEGER NOT NULL DEFAULT 0,
			attachment_type TEXT NOT NULL DEFAULT '',
			attachment_ref TEXT NOT NULL DEFAULT '',
			attachment_url TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			edited INTEGER NOT NULL DEFAULT 0,
			edited_at INTEGER NOT NULL DEFAULT 0,
			deleted TEXT NOT NULL DEFAULT 'none',
			client_ref TEXT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages (channel_key, created_at, id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_direct ON messages (channel_kind, scope_id, peer_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_messages_client_ref ON messages (channel_key, author_id, client_ref)`,
		`CREATE TABLE IF NOT EXISTS read_markers (
			user_id INTEGER NOT NULL,
			channel_key TEXT NOT NULL,
			last_read_id INTEGER NOT NULL DEFAULT 0,
			read_at INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, channel_key)
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			user_id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL DEFAULT '',
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT 'staff',
			avatar_url TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS chat_groups (
			group_id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_group_members (
			group_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			PRIMARY KEY (group_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS project_clients (
			project_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			PRIMARY KEY (project_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS project_assignments (
			project_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			role TEXT NOT NULL,
			PRIMARY KEY (project_id, user_id, role)
		)`,
	},
	UpsertMarker: `INSERT INTO read_markers (user_id, channel_key, last_read_id, read_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, channel_key) DO UPDATE SET
			last_read_id = MAX(last_read_id, excluded.last_read_id),
			read_at = excluded.read_at`,
}
