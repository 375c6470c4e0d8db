package repo

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Ошибки Record Store. Обе реализации (Postgres и memory) возвращают их
// обёрнутыми, проверять нужно через errors.Is.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState — переход состояния отклонён правилами оркестрации
	// или устаревшим timestamp.
	ErrInvalidState = errors.New("invalid state")
)

// scanError переводит ошибку Scan: отсутствие строки становится ErrNotFound.
func scanError(what string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("scan %s: %w", what, err)
}

// isUniqueViolation — SQLSTATE 23505.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
