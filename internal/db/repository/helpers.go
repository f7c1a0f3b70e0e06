// Package repository implements domain repository interfaces using SQLite.
package repository

import (
	"database/sql"
	"errors"
	"time"

	"lakerun/internal/domain"
)

const sqliteTimeFormat = "2006-01-02 15:04:05"

func mapDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.NotFoundError{Message: "resource not found"}
	}
	return err
}

func nullStrFromPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func strPtrFromNull(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

// timePtrFromNull converts a scanned timestamp. The driver parses TIMESTAMP
// columns itself, whether written as formatted text or CURRENT_TIMESTAMP.
func timePtrFromNull(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}
