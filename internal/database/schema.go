package database

// Dates of a reservation are stored as YYYY-MM-DD text in both dialects so
// range comparisons are plain string comparisons.

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS categories (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL,
		category_id INTEGER NOT NULL REFERENCES categories(id),
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		price_cents INTEGER NOT NULL CHECK (price_cents >= 0),
		availability TEXT NOT NULL DEFAULT 'unavailable',
		published BOOLEAN NOT NULL DEFAULT 0,
		published_at DATETIME,
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id INTEGER NOT NULL REFERENCES items(id),
		renter_id INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'pending',
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		CHECK (start_date < end_date)
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		reservation_id INTEGER NOT NULL UNIQUE REFERENCES reservations(id),
		amount_cents INTEGER NOT NULL,
		method TEXT NOT NULL,
		state TEXT NOT NULL,
		paid_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS incidents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		reservation_id INTEGER NOT NULL REFERENCES reservations(id),
		reporter_id INTEGER NOT NULL,
		description TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'open',
		reported_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reviews (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id INTEGER NOT NULL REFERENCES items(id),
		reviewer_id INTEGER NOT NULL,
		rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
		comment TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (reviewer_id, item_id)
	)`,
	`CREATE TABLE IF NOT EXISTS notification_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		reservation_id INTEGER NOT NULL DEFAULT 0,
		payload TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at DATETIME NOT NULL,
		processed_at DATETIME,
		next_retry_at DATETIME
	)`,

	// Не более одной активной брони на предмет
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_reservations_active_item
		ON reservations(item_id) WHERE state IN ('pending', 'accepted', 'confirmed')`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_renter ON reservations(renter_id)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_item ON reservations(item_id)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_state_end ON reservations(state, end_date)`,
	`CREATE INDEX IF NOT EXISTS idx_items_owner ON items(owner_id)`,
	`CREATE INDEX IF NOT EXISTS idx_items_category ON items(category_id)`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_reporter ON incidents(reporter_id)`,
	`CREATE INDEX IF NOT EXISTS idx_reviews_item ON reviews(item_id)`,
	`CREATE INDEX IF NOT EXISTS idx_notification_queue_status ON notification_queue(status, next_retry_at)`,
}

// MySQL has no partial indexes; a stored generated column that is NULL for
// terminal reservations carries the one-active-reservation rule instead.
var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS categories (
		id BIGINT PRIMARY KEY,
		name VARCHAR(100) NOT NULL UNIQUE,
		description VARCHAR(255) NOT NULL DEFAULT ''
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS items (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		category_id BIGINT NOT NULL,
		name VARCHAR(100) NOT NULL,
		description VARCHAR(255) NOT NULL DEFAULT '',
		price_cents BIGINT NOT NULL,
		availability VARCHAR(16) NOT NULL DEFAULT 'unavailable',
		published TINYINT(1) NOT NULL DEFAULT 0,
		published_at DATETIME(6) NULL,
		version BIGINT NOT NULL DEFAULT 1,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		INDEX idx_items_owner (owner_id),
		INDEX idx_items_category (category_id),
		FOREIGN KEY (category_id) REFERENCES categories(id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		item_id BIGINT NOT NULL,
		renter_id BIGINT NOT NULL,
		start_date CHAR(10) NOT NULL,
		end_date CHAR(10) NOT NULL,
		state VARCHAR(16) NOT NULL DEFAULT 'pending',
		version BIGINT NOT NULL DEFAULT 1,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		active_item_id BIGINT AS (CASE WHEN state IN ('pending', 'accepted', 'confirmed') THEN item_id END) STORED,
		UNIQUE KEY idx_reservations_active_item (active_item_id),
		INDEX idx_reservations_renter (renter_id),
		INDEX idx_reservations_item (item_id),
		INDEX idx_reservations_state_end (state, end_date),
		FOREIGN KEY (item_id) REFERENCES items(id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS payments (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		reservation_id BIGINT NOT NULL UNIQUE,
		amount_cents BIGINT NOT NULL,
		method VARCHAR(30) NOT NULL,
		state VARCHAR(16) NOT NULL,
		paid_at DATETIME(6) NOT NULL,
		FOREIGN KEY (reservation_id) REFERENCES reservations(id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS incidents (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		reservation_id BIGINT NOT NULL,
		reporter_id BIGINT NOT NULL,
		description VARCHAR(255) NOT NULL,
		state VARCHAR(16) NOT NULL DEFAULT 'open',
		reported_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		INDEX idx_incidents_reporter (reporter_id),
		FOREIGN KEY (reservation_id) REFERENCES reservations(id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS reviews (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		item_id BIGINT NOT NULL,
		reviewer_id BIGINT NOT NULL,
		rating INT NOT NULL,
		comment VARCHAR(255) NOT NULL DEFAULT '',
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		UNIQUE KEY idx_reviews_pair (reviewer_id, item_id),
		INDEX idx_reviews_item (item_id),
		FOREIGN KEY (item_id) REFERENCES items(id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS notification_queue (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		event_type VARCHAR(64) NOT NULL,
		reservation_id BIGINT NOT NULL DEFAULT 0,
		payload TEXT NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		retry_count INT NOT NULL DEFAULT 0,
		last_error TEXT NULL,
		created_at DATETIME(6) NOT NULL,
		processed_at DATETIME(6) NULL,
		next_retry_at DATETIME(6) NULL,
		INDEX idx_notification_queue_status (status, next_retry_at)
	) ENGINE=InnoDB`,
}
