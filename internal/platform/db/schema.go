package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema statements, in dependency order. MySQL executes one statement per
// Exec, so the schema is a slice rather than a single blob.
//
// The loans table carries the load-bearing invariant: open_marker is a stored
// generated column that is 'O' while the loan is open and NULL once returned.
// The unique key (book_copy_id, open_marker) therefore admits at most one open
// loan per copy while ignoring closed history rows (NULLs never collide).
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGINT AUTO_INCREMENT PRIMARY KEY,
		username      VARCHAR(128) NOT NULL,
		password_hash VARCHAR(128) NOT NULL,
		role          VARCHAR(20) NOT NULL DEFAULT 'member',
		is_active     TINYINT(1) NOT NULL DEFAULT 1,
		phone_number  VARCHAR(15) NULL,
		address       TEXT NULL,
		created_at    DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		updated_at    DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
		UNIQUE KEY uq_users_username (username),
		KEY idx_users_role (role),
		CONSTRAINT chk_users_role CHECK (role IN ('member', 'librarian'))
	)`,

	`CREATE TABLE IF NOT EXISTS authors (
		id          BIGINT AUTO_INCREMENT PRIMARY KEY,
		name        VARCHAR(256) NOT NULL,
		nationality VARCHAR(128) NULL,
		created_at  DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		updated_at  DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6)
	)`,

	`CREATE TABLE IF NOT EXISTS books (
		id          BIGINT AUTO_INCREMENT PRIMARY KEY,
		title       VARCHAR(256) NOT NULL,
		author_id   BIGINT NOT NULL,
		isbn        VARCHAR(20) NULL,
		is_archived TINYINT(1) NOT NULL DEFAULT 0,
		created_at  DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		updated_at  DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
		KEY idx_books_title (title),
		KEY idx_books_author (author_id),
		CONSTRAINT fk_books_author FOREIGN KEY (author_id) REFERENCES authors (id) ON DELETE RESTRICT
	)`,

	`CREATE TABLE IF NOT EXISTS book_copies (
		id          BIGINT AUTO_INCREMENT PRIMARY KEY,
		book_id     BIGINT NOT NULL,
		barcode     VARCHAR(128) NOT NULL,
		status      VARCHAR(20) NOT NULL DEFAULT 'available',
		borrowed_by BIGINT NULL,
		created_at  DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		updated_at  DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
		UNIQUE KEY uq_copies_barcode (barcode),
		KEY idx_copies_borrowed_by (borrowed_by),
		KEY idx_copies_book_status (book_id, status),
		CONSTRAINT fk_copies_book FOREIGN KEY (book_id) REFERENCES books (id) ON DELETE RESTRICT,
		CONSTRAINT fk_copies_borrower FOREIGN KEY (borrowed_by) REFERENCES users (id) ON DELETE RESTRICT,
		CONSTRAINT chk_copy_status_borrower CHECK (
			(status = 'available'   AND borrowed_by IS NULL) OR
			(status = 'borrowed'    AND borrowed_by IS NOT NULL) OR
			(status = 'lost') OR
			(status = 'maintenance' AND borrowed_by IS NULL)
		)
	)`,

	`CREATE TABLE IF NOT EXISTS loans (
		id               BIGINT AUTO_INCREMENT PRIMARY KEY,
		loan_ulid        CHAR(26) NOT NULL,
		book_copy_id     BIGINT NOT NULL,
		borrowed_by      BIGINT NOT NULL,
		issued_by        BIGINT NULL,
		lent_at          DATETIME(6) NOT NULL,
		due_at           DATETIME(6) NOT NULL,
		loan_period_days INT NOT NULL,
		fine_per_day     DECIMAL(5,2) NOT NULL,
		returned_at      DATETIME(6) NULL,
		fine             DECIMAL(7,2) NULL,
		fine_collected   TINYINT(1) NOT NULL DEFAULT 0,
		open_marker      CHAR(1) GENERATED ALWAYS AS (IF(returned_at IS NULL, 'O', NULL)) STORED,
		UNIQUE KEY uq_loans_ulid (loan_ulid),
		UNIQUE KEY uq_one_open_loan_per_copy (book_copy_id, open_marker),
		KEY idx_loans_borrowed_by (borrowed_by),
		KEY idx_loans_due_at (due_at),
		KEY idx_loans_fine_collected (fine_collected),
		CONSTRAINT fk_loans_copy FOREIGN KEY (book_copy_id) REFERENCES book_copies (id) ON DELETE RESTRICT,
		CONSTRAINT fk_loans_borrower FOREIGN KEY (borrowed_by) REFERENCES users (id) ON DELETE RESTRICT,
		CONSTRAINT fk_loans_issuer FOREIGN KEY (issued_by) REFERENCES users (id) ON DELETE RESTRICT
	)`,

	`CREATE TABLE IF NOT EXISTS library_config (
		id                   TINYINT PRIMARY KEY,
		loan_period_days     INT NOT NULL DEFAULT 14,
		fine_per_day         DECIMAL(5,2) NOT NULL DEFAULT 1.00,
		max_loans_per_member INT NOT NULL DEFAULT 3,
		updated_at           DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
		CONSTRAINT chk_config_singleton CHECK (id = 1)
	)`,

	// Seed the singleton row. INSERT IGNORE keeps concurrent startups safe.
	`INSERT IGNORE INTO library_config (id) VALUES (1)`,
}

// EnsureSchema creates all tables, constraints and the policy singleton row
// if they do not already exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}
