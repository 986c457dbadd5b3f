package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/visionward/sitewatch/internal/detect"
	"github.com/visionward/sitewatch/internal/logger"
	"github.com/visionward/sitewatch/internal/rules"
	"github.com/visionward/sitewatch/internal/stream"
)

// DescriptorSource supplies the current stream descriptor list
type DescriptorSource interface {
	ListDescriptors(ctx context.Context) ([]stream.Descriptor, error)
}

// Store reads stream descriptors and rules from the configuration
// database. The admin backend writes them; this process only reads
// snapshots. Implements both DescriptorSource and rules.Loader.
type Store struct {
	db     *Database
	logger *logger.Logger
}

// NewStore opens the snapshot store at the given path
func NewStore(dbPath string, log *logger.Logger) (*Store, error) {
	db, err := NewDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return &Store{db: db, logger: log}, nil
}

// Close closes the store
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the database connection
func (s *Store) GetDB() *sql.DB {
	return s.db.GetDB()
}

// ListDescriptors returns every configured stream, enabled or not
func (s *Store) ListDescriptors(ctx context.Context) ([]stream.Descriptor, error) {
	query := `SELECT id, protocol, target, location, enabled, options FROM streams ORDER BY id`

	rows, err := s.db.GetDB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list streams: %w", err)
	}
	defer rows.Close()

	var descriptors []stream.Descriptor
	for rows.Next() {
		var desc stream.Descriptor
		var location, options sql.NullString
		if err := rows.Scan(&desc.ID, &desc.Protocol, &desc.Target, &location, &desc.Enabled, &options); err != nil {
			return nil, err
		}
		desc.Location = location.String
		if options.Valid && options.String != "" {
			if err := json.Unmarshal([]byte(options.String), &desc.Options); err != nil {
				s.logger.Warn("Ignoring malformed stream options", "stream_id", desc.ID, "error", err)
			}
		}
		descriptors = append(descriptors, desc)
	}

	return descriptors, rows.Err()
}

// LoadRules returns every rule in the database. Malformed JSON columns
// fail the whole load so the rule engine keeps its last good snapshot
// instead of silently evaluating a truncated rule.
func (s *Store) LoadRules(ctx context.Context) ([]rules.Rule, error) {
	query := `
		SELECT id, name, enabled, stream_kind, stream_ids, subject_ids,
		       categories, confidence_threshold, duration_seconds,
		       schedule, notify, priority
		FROM rules ORDER BY priority DESC, created_at
	`

	rows, err := s.db.GetDB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	defer rows.Close()

	var out []rules.Rule
	for rows.Next() {
		var rule rules.Rule
		var streamKind, streamIDs, subjectIDs, categories, schedule, notify sql.NullString
		var durationSeconds int64
		if err := rows.Scan(
			&rule.ID, &rule.Name, &rule.Enabled, &streamKind, &streamIDs, &subjectIDs,
			&categories, &rule.ConfidenceThreshold, &durationSeconds,
			&schedule, &notify, &rule.Priority,
		); err != nil {
			return nil, err
		}

		rule.StreamKind = streamKind.String
		rule.DurationThreshold = time.Duration(durationSeconds) * time.Second

		if err := unmarshalColumn(streamIDs, &rule.StreamIDs); err != nil {
			return nil, fmt.Errorf("rule %s: bad stream_ids: %w", rule.ID, err)
		}
		if err := unmarshalColumn(subjectIDs, &rule.SubjectIDs); err != nil {
			return nil, fmt.Errorf("rule %s: bad subject_ids: %w", rule.ID, err)
		}
		var cats []detect.Category
		if err := unmarshalColumn(categories, &cats); err != nil {
			return nil, fmt.Errorf("rule %s: bad categories: %w", rule.ID, err)
		}
		rule.Categories = cats
		if err := unmarshalColumn(schedule, &rule.Schedule); err != nil {
			return nil, fmt.Errorf("rule %s: bad schedule: %w", rule.ID, err)
		}
		if err := unmarshalColumn(notify, &rule.Notify); err != nil {
			return nil, fmt.Errorf("rule %s: bad notify config: %w", rule.ID, err)
		}

		out = append(out, rule)
	}

	return out, rows.Err()
}

// unmarshalColumn decodes a nullable JSON column, leaving the target
// untouched when the column is NULL or empty
func unmarshalColumn(col sql.NullString, target interface{}) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), target)
}
