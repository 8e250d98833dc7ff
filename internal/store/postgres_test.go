package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/territory-engine/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

var resolutionColumns = []string{
	"zip_code", "city_slug", "city_display_name", "utility_id", "utility_name",
	"market_type", "confidence", "data_source", "conflicts", "resolved_at", "next_revalidation_at",
}

func testResolution() *model.Resolution {
	resolved := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &model.Resolution{
		ZipCode:            "75201",
		CitySlug:           "dallas",
		CityDisplayName:    "Dallas",
		UtilityID:          "1039940674000",
		UtilityName:        "Oncor Electric Delivery",
		MarketType:         model.MarketDeregulated,
		Confidence:         95,
		DataSource:         "grid_operator",
		ResolvedAt:         resolved,
		NextRevalidationAt: resolved.Add(30 * 24 * time.Hour),
	}
}

func TestPostgresStore_UpsertResolution(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	res := testResolution()

	mock.ExpectExec(`INSERT INTO territory_resolutions`).
		WithArgs("75201", "dallas", "Dallas", "1039940674000", "Oncor Electric Delivery",
			"deregulated", 95, "grid_operator", []byte(nil), res.ResolvedAt, res.NextRevalidationAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertResolution(context.Background(), res))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertResolution_WithConflicts(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	res := testResolution()
	res.Conflicts = []model.Conflict{{Provider: "tdu_oncor", CitySlug: "plano", UtilityID: "103", Confidence: 40}}

	mock.ExpectExec(`INSERT INTO territory_resolutions`).
		WithArgs("75201", "dallas", "Dallas", "1039940674000", "Oncor Electric Delivery",
			"deregulated", 95, "grid_operator", pgxmock.AnyArg(), res.ResolvedAt, res.NextRevalidationAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertResolution(context.Background(), res))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetResolution(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	want := testResolution()

	mock.ExpectQuery(`SELECT .+ FROM territory_resolutions WHERE zip_code = \$1`).
		WithArgs("75201").
		WillReturnRows(pgxmock.NewRows(resolutionColumns).AddRow(
			"75201", "dallas", "Dallas", "1039940674000", "Oncor Electric Delivery",
			"deregulated", 95, "grid_operator", []byte(nil), want.ResolvedAt, want.NextRevalidationAt,
		))

	got, err := s.GetResolution(context.Background(), "75201")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.CitySlug, got.CitySlug)
	assert.Equal(t, want.MarketType, got.MarketType)
	assert.Equal(t, want.Confidence, got.Confidence)
	assert.Empty(t, got.Conflicts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetResolution_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM territory_resolutions WHERE zip_code = \$1`).
		WithArgs("99999").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetResolution(context.Background(), "99999")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetResolution_UnmarshalsConflicts(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	want := testResolution()

	mock.ExpectQuery(`SELECT .+ FROM territory_resolutions WHERE zip_code = \$1`).
		WithArgs("75201").
		WillReturnRows(pgxmock.NewRows(resolutionColumns).AddRow(
			"75201", "dallas", "Dallas", "1039940674000", "Oncor Electric Delivery",
			"deregulated", 80, "grid_operator",
			[]byte(`[{"provider":"tdu_oncor","city_slug":"plano","utility_id":"103","confidence":40}]`),
			want.ResolvedAt, want.NextRevalidationAt,
		))

	got, err := s.GetResolution(context.Background(), "75201")
	require.NoError(t, err)
	require.Len(t, got.Conflicts, 1)
	assert.Equal(t, "plano", got.Conflicts[0].CitySlug)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListByPrefix(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	want := testResolution()

	mock.ExpectQuery(`SELECT .+ FROM territory_resolutions\s+WHERE zip_code LIKE \$1`).
		WithArgs("752", 80, 5).
		WillReturnRows(pgxmock.NewRows(resolutionColumns).
			AddRow("75201", "dallas", "Dallas", "103", "Oncor", "deregulated", 95, "grid_operator",
				[]byte(nil), want.ResolvedAt, want.NextRevalidationAt).
			AddRow("75202", "dallas", "Dallas", "103", "Oncor", "deregulated", 88, "state_regulator",
				[]byte(nil), want.ResolvedAt, want.NextRevalidationAt))

	got, err := s.ListByPrefix(context.Background(), "752", 80, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.ZipCode("75201"), got[0].ZipCode)
	assert.Equal(t, 88, got[1].Confidence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListByPrefix_DefaultLimit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM territory_resolutions`).
		WithArgs("752", 0, 10).
		WillReturnRows(pgxmock.NewRows(resolutionColumns))

	got, err := s.ListByPrefix(context.Background(), "752", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendAudit(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	entry := &model.AuditEntry{
		ZipCode:          "75201",
		RequestID:        "req-1",
		SourcesQueried:   []string{"grid_operator", "state_regulator"},
		ChosenSource:     "grid_operator",
		ProcessingTimeMs: 120,
		ValidatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec(`INSERT INTO resolution_audit`).
		WithArgs(pgxmock.AnyArg(), "75201", "req-1", []byte(`["grid_operator","state_regulator"]`),
			"grid_operator", false, int64(120), "", entry.ValidatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.AppendAudit(context.Background(), entry))
	assert.NotEmpty(t, entry.ID) // generated when absent
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListAuditSince(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	at := cutoff.Add(2 * time.Hour)
	chosen := "grid_operator"

	mock.ExpectQuery(`SELECT .+ FROM resolution_audit\s+WHERE validated_at >= \$1`).
		WithArgs(cutoff, 100).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "zip_code", "request_id", "sources_queried", "chosen_source",
			"cache_hit", "processing_time_ms", "error_code", "validated_at",
		}).AddRow("a1", "75201", "req-1", []byte(`["grid_operator"]`), &chosen,
			true, int64(3), (*string)(nil), at))

	got, err := s.ListAuditSince(context.Background(), cutoff, 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "grid_operator", got[0].ChosenSource)
	assert.True(t, got[0].CacheHit)
	assert.Empty(t, got[0].ErrorCode)
	assert.Equal(t, []string{"grid_operator"}, got[0].SourcesQueried)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT 1`).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	require.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS territory_resolutions`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
