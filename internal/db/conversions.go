package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonathan/web2pdf/internal/types"
)

const conversionColumns = `id, user_id, source_url, filename, title, file_size, page_count,
	compression_level, compressed, subpages_requested, subpages_rendered, settings, created_at, updated_at`

// InsertConversion records a finished conversion
func (db *DB) InsertConversion(ctx context.Context, c *Conversion) error {
	var settings []byte
	if c.Settings != nil {
		var err error
		settings, err = json.Marshal(c.Settings)
		if err != nil {
			return fmt.Errorf("failed to marshal settings: %w", err)
		}
	}

	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO conversions (id, user_id, source_url, filename, title, file_size, page_count,
			compression_level, compressed, subpages_requested, subpages_rendered, settings, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`,
		c.ID, c.UserID, c.SourceURL, c.Filename, c.Title, c.FileSize, c.PageCount,
		c.CompressionLevel, c.Compressed, c.SubpagesRequested, c.SubpagesRendered, settings, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversion: %w", err)
	}
	return nil
}

// GetConversion retrieves a conversion by ID, returning nil if it does not exist
func (db *DB) GetConversion(ctx context.Context, id uuid.UUID) (*Conversion, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+conversionColumns+` FROM conversions WHERE id = $1`, id)
	c, err := scanConversion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get conversion: %w", err)
	}
	return c, nil
}

// ListConversions retrieves a user's conversions, newest first
func (db *DB) ListConversions(ctx context.Context, userID uuid.UUID, limit int) ([]Conversion, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+conversionColumns+` FROM conversions
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversions: %w", err)
	}
	defer rows.Close()

	conversions := []Conversion{}
	for rows.Next() {
		c, err := scanConversion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversion: %w", err)
		}
		conversions = append(conversions, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversions: %w", err)
	}
	return conversions, nil
}

// UpdateConversionTitle stores the title written by a metadata update
func (db *DB) UpdateConversionTitle(ctx context.Context, id uuid.UUID, title string, fileSize int64) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE conversions SET title = $2, file_size = $3, updated_at = NOW() WHERE id = $1`,
		id, title, fileSize,
	)
	if err != nil {
		return fmt.Errorf("failed to update conversion: %w", err)
	}
	return nil
}

// DeleteConversion removes one of a user's conversions and returns it, or nil if none matched
func (db *DB) DeleteConversion(ctx context.Context, userID, id uuid.UUID) (*Conversion, error) {
	row := db.pool.QueryRow(ctx,
		`DELETE FROM conversions WHERE id = $1 AND user_id = $2 RETURNING `+conversionColumns,
		id, userID,
	)
	c, err := scanConversion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to delete conversion: %w", err)
	}
	return c, nil
}

// ClearConversions removes all of a user's conversions and returns their filenames
func (db *DB) ClearConversions(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := db.pool.Query(ctx, `DELETE FROM conversions WHERE user_id = $1 RETURNING filename`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to clear conversions: %w", err)
	}
	filenames, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to clear conversions: %w", err)
	}
	return filenames, nil
}

// DeleteConversionsBefore prunes history rows created before cutoff
func (db *DB) DeleteConversionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.pool.Exec(ctx, `DELETE FROM conversions WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune conversions: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanConversion(row pgx.Row) (*Conversion, error) {
	var c Conversion
	var settings []byte
	err := row.Scan(&c.ID, &c.UserID, &c.SourceURL, &c.Filename, &c.Title, &c.FileSize, &c.PageCount,
		&c.CompressionLevel, &c.Compressed, &c.SubpagesRequested, &c.SubpagesRendered, &settings,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(settings) > 0 {
		var s types.RenderSettings
		if err := json.Unmarshal(settings, &s); err == nil {
			c.Settings = &s
		}
	}
	return &c, nil
}
