package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/territory-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Suitable for
// single-node deployments and local development.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS territory_resolutions (
	zip_code             TEXT PRIMARY KEY,
	city_slug            TEXT NOT NULL,
	city_display_name    TEXT NOT NULL,
	utility_id           TEXT NOT NULL,
	utility_name         TEXT NOT NULL,
	market_type          TEXT NOT NULL,
	confidence           INTEGER NOT NULL,
	data_source          TEXT NOT NULL,
	conflicts            TEXT,
	resolved_at          DATETIME NOT NULL,
	next_revalidation_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_territory_resolutions_confidence
	ON territory_resolutions(confidence DESC);

CREATE TABLE IF NOT EXISTS resolution_audit (
	id                 TEXT PRIMARY KEY,
	zip_code           TEXT NOT NULL,
	request_id         TEXT NOT NULL,
	sources_queried    TEXT NOT NULL,
	chosen_source      TEXT,
	cache_hit          INTEGER NOT NULL DEFAULT 0,
	processing_time_ms INTEGER NOT NULL,
	error_code         TEXT,
	validated_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_resolution_audit_validated_at ON resolution_audit(validated_at);
CREATE INDEX IF NOT EXISTS idx_resolution_audit_zip ON resolution_audit(zip_code);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertResolution(ctx context.Context, res *model.Resolution) error {
	var conflictsJSON []byte
	if len(res.Conflicts) > 0 {
		var err error
		conflictsJSON, err = json.Marshal(res.Conflicts)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal conflicts")
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO territory_resolutions
		 (zip_code, city_slug, city_display_name, utility_id, utility_name, market_type, confidence, data_source, conflicts, resolved_at, next_revalidation_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (zip_code) DO UPDATE SET
		   city_slug = excluded.city_slug, city_display_name = excluded.city_display_name,
		   utility_id = excluded.utility_id, utility_name = excluded.utility_name,
		   market_type = excluded.market_type, confidence = excluded.confidence,
		   data_source = excluded.data_source, conflicts = excluded.conflicts,
		   resolved_at = excluded.resolved_at, next_revalidation_at = excluded.next_revalidation_at`,
		res.ZipCode.String(), res.CitySlug, res.CityDisplayName, res.UtilityID, res.UtilityName,
		string(res.MarketType), res.Confidence, res.DataSource, nullableBytes(conflictsJSON),
		res.ResolvedAt.UTC(), res.NextRevalidationAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert resolution %s", res.ZipCode)
}

// ImportResolutions bulk-loads pre-resolved territory data in one
// transaction, replacing existing rows for the same codes.
func (s *SQLiteStore) ImportResolutions(ctx context.Context, resolutions []model.Resolution) (int64, error) {
	if len(resolutions) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO territory_resolutions
		 (zip_code, city_slug, city_display_name, utility_id, utility_name, market_type, confidence, data_source, conflicts, resolved_at, next_revalidation_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (zip_code) DO UPDATE SET
		   city_slug = excluded.city_slug, city_display_name = excluded.city_display_name,
		   utility_id = excluded.utility_id, utility_name = excluded.utility_name,
		   market_type = excluded.market_type, confidence = excluded.confidence,
		   data_source = excluded.data_source, conflicts = excluded.conflicts,
		   resolved_at = excluded.resolved_at, next_revalidation_at = excluded.next_revalidation_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import prepare")
	}
	defer stmt.Close()

	var count int64
	for i := range resolutions {
		res := &resolutions[i]
		var conflictsJSON []byte
		if len(res.Conflicts) > 0 {
			conflictsJSON, err = json.Marshal(res.Conflicts)
			if err != nil {
				return 0, eris.Wrapf(err, "sqlite: marshal conflicts %s", res.ZipCode)
			}
		}
		if _, err := stmt.ExecContext(ctx,
			res.ZipCode.String(), res.CitySlug, res.CityDisplayName, res.UtilityID, res.UtilityName,
			string(res.MarketType), res.Confidence, res.DataSource, nullableBytes(conflictsJSON),
			res.ResolvedAt.UTC(), res.NextRevalidationAt.UTC(),
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: import row %s", res.ZipCode)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: import commit")
	}
	return count, nil
}

func (s *SQLiteStore) GetResolution(ctx context.Context, zip model.ZipCode) (*model.Resolution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT zip_code, city_slug, city_display_name, utility_id, utility_name, market_type, confidence, data_source, conflicts, resolved_at, next_revalidation_at
		 FROM territory_resolutions WHERE zip_code = ?`,
		zip.String(),
	)
	res, err := scanSQLiteResolution(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get resolution %s", zip)
	}
	return res, nil
}

func (s *SQLiteStore) ListByPrefix(ctx context.Context, prefix string, minConfidence, limit int) ([]model.Resolution, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT zip_code, city_slug, city_display_name, utility_id, utility_name, market_type, confidence, data_source, conflicts, resolved_at, next_revalidation_at
		 FROM territory_resolutions
		 WHERE zip_code LIKE ? || '%' AND confidence >= ?
		 ORDER BY confidence DESC, zip_code ASC
		 LIMIT ?`,
		prefix, minConfidence, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list by prefix")
	}
	defer rows.Close()

	var out []model.Resolution
	for rows.Next() {
		res, err := scanSQLiteResolution(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan resolution")
		}
		out = append(out, *res)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list by prefix iterate")
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, entry *model.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	sourcesJSON, err := json.Marshal(entry.SourcesQueried)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal sources")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO resolution_audit
		 (id, zip_code, request_id, sources_queried, chosen_source, cache_hit, processing_time_ms, error_code, validated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ZipCode, entry.RequestID, string(sourcesJSON), entry.ChosenSource,
		entry.CacheHit, entry.ProcessingTimeMs, entry.ErrorCode, entry.ValidatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: append audit")
}

func (s *SQLiteStore) ListAuditSince(ctx context.Context, cutoff time.Time, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = 10000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, zip_code, request_id, sources_queried, chosen_source, cache_hit, processing_time_ms, error_code, validated_at
		 FROM resolution_audit
		 WHERE validated_at >= ?
		 ORDER BY validated_at DESC
		 LIMIT ?`,
		cutoff.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audit")
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var sourcesJSON string
		var chosen, errCode sql.NullString
		if err := rows.Scan(&e.ID, &e.ZipCode, &e.RequestID, &sourcesJSON, &chosen,
			&e.CacheHit, &e.ProcessingTimeMs, &errCode, &e.ValidatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit entry")
		}
		e.ChosenSource = chosen.String
		e.ErrorCode = errCode.String
		if err := json.Unmarshal([]byte(sourcesJSON), &e.SourcesQueried); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal sources")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list audit iterate")
}

func scanSQLiteResolution(scan func(dest ...any) error) (*model.Resolution, error) {
	var res model.Resolution
	var zip, market string
	var conflictsJSON sql.NullString

	err := scan(&zip, &res.CitySlug, &res.CityDisplayName, &res.UtilityID, &res.UtilityName,
		&market, &res.Confidence, &res.DataSource, &conflictsJSON, &res.ResolvedAt, &res.NextRevalidationAt)
	if err != nil {
		return nil, err
	}
	res.ZipCode = model.ZipCode(zip)
	res.MarketType = model.MarketType(market)
	if conflictsJSON.Valid && conflictsJSON.String != "" {
		if err := json.Unmarshal([]byte(conflictsJSON.String), &res.Conflicts); err != nil {
			return nil, eris.Wrap(err, "unmarshal conflicts")
		}
	}
	return &res, nil
}

// nullableBytes maps an empty slice to NULL so the column stays NULL when
// there are no conflicts.
func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
