package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

// CreateAccount registers an email/password identity and returns its uid.
func (db *DB) CreateAccount(ctx context.Context, email, password string) (string, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return "", fmt.Errorf("invalid email %q", email)
	}
	if len(password) < MinPasswordLength {
		return "", fmt.Errorf("%w: need at least %d characters", ErrWeakPassword, MinPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE email = ?`, email).Scan(&exists); err != nil {
		return "", fmt.Errorf("failed to check email: %w", err)
	}
	if exists > 0 {
		return "", ErrEmailTaken
	}

	uid := uuid.NewString()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (uid, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		uid, email, string(hash), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("failed to create account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return uid, nil
}

// VerifyPassword returns the uid of the account matching the credentials.
func (db *DB) VerifyPassword(ctx context.Context, email, password string) (string, error) {
	var uid, hash string
	err := db.conn.QueryRowContext(ctx,
		`SELECT uid, password_hash FROM accounts WHERE email = ?`, normalizeEmail(email)).Scan(&uid, &hash)
	if err == sql.ErrNoRows {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up account: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return uid, nil
}

// DeleteAccount removes credentials. Profile documents are left alone.
func (db *DB) DeleteAccount(ctx context.Context, uid string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM accounts WHERE uid = ?`, uid); err != nil {
		return fmt.Errorf("failed to delete account %s: %w", uid, err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
