package postgres

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// fromText converts a nullable text column, mapping NULL to fallback.
func fromText(t pgtype.Text, fallback string) string {
	if !t.Valid {
		return fallback
	}
	return t.String
}

// fromTimestamptz converts a nullable timestamp column; NULL becomes the zero time.
func fromTimestamptz(t pgtype.Timestamptz) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}
