package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/territory-engine/internal/db"
	"github.com/sells-group/territory-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot-path store operations.
var preparedStatements = map[string]string{
	"upsert_resolution": `INSERT INTO territory_resolutions
		(zip_code, city_slug, city_display_name, utility_id, utility_name, market_type, confidence, data_source, conflicts, resolved_at, next_revalidation_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (zip_code) DO UPDATE SET
		  city_slug = $2, city_display_name = $3, utility_id = $4, utility_name = $5,
		  market_type = $6, confidence = $7, data_source = $8, conflicts = $9,
		  resolved_at = $10, next_revalidation_at = $11`,
	"get_resolution": `SELECT zip_code, city_slug, city_display_name, utility_id, utility_name, market_type, confidence, data_source, conflicts, resolved_at, next_revalidation_at
		FROM territory_resolutions WHERE zip_code = $1`,
	"insert_audit": `INSERT INTO resolution_audit
		(id, zip_code, request_id, sources_queried, chosen_source, cache_hit, processing_time_ms, error_code, validated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS territory_resolutions (
	zip_code             TEXT PRIMARY KEY,
	city_slug            TEXT NOT NULL,
	city_display_name    TEXT NOT NULL,
	utility_id           TEXT NOT NULL,
	utility_name         TEXT NOT NULL,
	market_type          TEXT NOT NULL,
	confidence           INTEGER NOT NULL,
	data_source          TEXT NOT NULL,
	conflicts            JSONB,
	resolved_at          TIMESTAMPTZ NOT NULL,
	next_revalidation_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_territory_resolutions_confidence
	ON territory_resolutions(confidence DESC);

CREATE TABLE IF NOT EXISTS resolution_audit (
	id                 TEXT PRIMARY KEY,
	zip_code           TEXT NOT NULL,
	request_id         TEXT NOT NULL,
	sources_queried    JSONB NOT NULL,
	chosen_source      TEXT,
	cache_hit          BOOLEAN NOT NULL DEFAULT false,
	processing_time_ms BIGINT NOT NULL,
	error_code         TEXT,
	validated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_resolution_audit_validated_at ON resolution_audit(validated_at);
CREATE INDEX IF NOT EXISTS idx_resolution_audit_zip ON resolution_audit(zip_code);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) UpsertResolution(ctx context.Context, res *model.Resolution) error {
	var conflictsJSON []byte
	if len(res.Conflicts) > 0 {
		var err error
		conflictsJSON, err = json.Marshal(res.Conflicts)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal conflicts")
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO territory_resolutions
		 (zip_code, city_slug, city_display_name, utility_id, utility_name, market_type, confidence, data_source, conflicts, resolved_at, next_revalidation_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (zip_code) DO UPDATE SET
		   city_slug = $2, city_display_name = $3, utility_id = $4, utility_name = $5,
		   market_type = $6, confidence = $7, data_source = $8, conflicts = $9,
		   resolved_at = $10, next_revalidation_at = $11`,
		res.ZipCode.String(), res.CitySlug, res.CityDisplayName, res.UtilityID, res.UtilityName,
		string(res.MarketType), res.Confidence, res.DataSource, conflictsJSON,
		res.ResolvedAt, res.NextRevalidationAt,
	)
	return eris.Wrapf(err, "postgres: upsert resolution %s", res.ZipCode)
}

// resolutionColumnNames is the column order shared by the upsert statement
// and bulk import.
var resolutionColumnNames = []string{
	"zip_code", "city_slug", "city_display_name", "utility_id", "utility_name",
	"market_type", "confidence", "data_source", "conflicts", "resolved_at", "next_revalidation_at",
}

// ImportResolutions bulk-loads pre-resolved territory data, replacing any
// existing rows for the same codes. Used to seed a fresh deployment from an
// exported dataset.
func (s *PostgresStore) ImportResolutions(ctx context.Context, resolutions []model.Resolution) (int64, error) {
	rows := make([][]any, 0, len(resolutions))
	for i := range resolutions {
		res := &resolutions[i]
		var conflictsJSON []byte
		if len(res.Conflicts) > 0 {
			var err error
			conflictsJSON, err = json.Marshal(res.Conflicts)
			if err != nil {
				return 0, eris.Wrapf(err, "postgres: marshal conflicts %s", res.ZipCode)
			}
		}
		rows = append(rows, []any{
			res.ZipCode.String(), res.CitySlug, res.CityDisplayName, res.UtilityID, res.UtilityName,
			string(res.MarketType), res.Confidence, res.DataSource, conflictsJSON,
			res.ResolvedAt, res.NextRevalidationAt,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "territory_resolutions",
		Columns:      resolutionColumnNames,
		ConflictKeys: []string{"zip_code"},
	}, rows)
	return n, eris.Wrap(err, "postgres: import resolutions")
}

func (s *PostgresStore) GetResolution(ctx context.Context, zip model.ZipCode) (*model.Resolution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT zip_code, city_slug, city_display_name, utility_id, utility_name, market_type, confidence, data_source, conflicts, resolved_at, next_revalidation_at
		 FROM territory_resolutions WHERE zip_code = $1`,
		zip.String(),
	)
	res, err := scanResolution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get resolution %s", zip)
	}
	return res, nil
}

func (s *PostgresStore) ListByPrefix(ctx context.Context, prefix string, minConfidence, limit int) ([]model.Resolution, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT zip_code, city_slug, city_display_name, utility_id, utility_name, market_type, confidence, data_source, conflicts, resolved_at, next_revalidation_at
		 FROM territory_resolutions
		 WHERE zip_code LIKE $1 || '%' AND confidence >= $2
		 ORDER BY confidence DESC, zip_code ASC
		 LIMIT $3`,
		prefix, minConfidence, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list by prefix")
	}
	defer rows.Close()

	var out []model.Resolution
	for rows.Next() {
		res, err := scanResolution(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan resolution")
		}
		out = append(out, *res)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list by prefix iterate")
}

func (s *PostgresStore) AppendAudit(ctx context.Context, entry *model.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	sourcesJSON, err := json.Marshal(entry.SourcesQueried)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal sources")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO resolution_audit
		 (id, zip_code, request_id, sources_queried, chosen_source, cache_hit, processing_time_ms, error_code, validated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.ZipCode, entry.RequestID, sourcesJSON, entry.ChosenSource,
		entry.CacheHit, entry.ProcessingTimeMs, entry.ErrorCode, entry.ValidatedAt,
	)
	return eris.Wrap(err, "postgres: append audit")
}

func (s *PostgresStore) ListAuditSince(ctx context.Context, cutoff time.Time, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = 10000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, zip_code, request_id, sources_queried, chosen_source, cache_hit, processing_time_ms, error_code, validated_at
		 FROM resolution_audit
		 WHERE validated_at >= $1
		 ORDER BY validated_at DESC
		 LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit")
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var sourcesJSON []byte
		var chosen, errCode *string
		if err := rows.Scan(&e.ID, &e.ZipCode, &e.RequestID, &sourcesJSON, &chosen,
			&e.CacheHit, &e.ProcessingTimeMs, &errCode, &e.ValidatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit entry")
		}
		if chosen != nil {
			e.ChosenSource = *chosen
		}
		if errCode != nil {
			e.ErrorCode = *errCode
		}
		if err := json.Unmarshal(sourcesJSON, &e.SourcesQueried); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal sources")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list audit iterate")
}

// scanResolution reads one resolution row from a pgx row scanner.
func scanResolution(row pgx.Row) (*model.Resolution, error) {
	var res model.Resolution
	var zip, market string
	var conflictsJSON []byte

	err := row.Scan(&zip, &res.CitySlug, &res.CityDisplayName, &res.UtilityID, &res.UtilityName,
		&market, &res.Confidence, &res.DataSource, &conflictsJSON, &res.ResolvedAt, &res.NextRevalidationAt)
	if err != nil {
		return nil, err
	}
	res.ZipCode = model.ZipCode(zip)
	res.MarketType = model.MarketType(market)
	if len(conflictsJSON) > 0 {
		if err := json.Unmarshal(conflictsJSON, &res.Conflicts); err != nil {
			return nil, eris.Wrap(err, "unmarshal conflicts")
		}
	}
	return &res, nil
}
