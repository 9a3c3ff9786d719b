// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) (*sqlx.DB, Repository) {
	t.Helper()

	db, err := OpenDB("duckdb", "")
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	repo := NewRepository(db)
	require.NoError(t, repo.CreateSchema(context.Background()))

	return db, repo
}

func successfulResult(query, provider string, lat, lon float64) *Result {
	return &Result{
		Query:            query,
		Provider:         provider,
		Latitude:         ptr(lat),
		Longitude:        ptr(lon),
		FormattedAddress: ptr(query + ", Moscow"),
		City:             ptr("Moscow"),
		Accuracy:         ptr(string(AccuracyRooftop)),
		Confidence:       1,
		IsSuccessful:     true,
		CreatedAt:        testNow,
		ExpiresAt:        ptr(testNow.Add(24 * time.Hour)),
	}
}

func failedResult(query, provider string) *Result {
	return &Result{
		Query:        query,
		Provider:     provider,
		IsSuccessful: false,
		ErrorMessage: ptr("google: request failed: connection refused"),
		CreatedAt:    testNow,
	}
}

func TestCreateSchemaIsIdempotent(t *testing.T) {
	db, repo := setupTestDB(t)

	require.NoError(t, repo.CreateSchema(context.Background()))

	var n int
	err := db.Get(&n, "SELECT COUNT(*) FROM information_schema.tables WHERE table_name IN ('geocoding_results', 'addresses')")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSaveAndFindCached(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	rows := []*Result{
		successfulResult("Red Square", "google", 55.7539, 37.6208),
		successfulResult("Red Square", "google", 55.7540, 37.6209),
		failedResult("Red Square", "google"),
		successfulResult("Red Square", "yandex", 55.7539, 37.6208),
	}
	require.NoError(t, repo.SaveResults(ctx, rows))

	for _, r := range rows {
		assert.NotZero(t, r.ID)
	}

	cached, err := repo.FindCached(ctx, "Red Square", "google", testNow)
	require.NoError(t, err)
	require.Len(t, cached, 2)
	assert.Equal(t, rows[0].ID, cached[0].ID)
	assert.Equal(t, rows[1].ID, cached[1].ID)
	assert.Equal(t, "Moscow", *cached[0].City)
	assert.InDelta(t, 55.7539, *cached[0].Latitude, 1e-9)
	assert.True(t, cached[0].IsSuccessful)
	assert.Nil(t, cached[0].ErrorMessage)
}

func TestFindCachedUsesLiteralKey(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveResults(ctx, []*Result{successfulResult("Red Square", "google", 55.75, 37.62)}))

	for _, query := range []string{"red square", "Red Square ", "Red  Square"} {
		cached, err := repo.FindCached(ctx, query, "google", testNow)
		require.NoError(t, err)
		assert.Empty(t, cached, "query %q", query)
	}
}

func TestFindCachedSkipsExpired(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveResults(ctx, []*Result{successfulResult("Tverskaya 1", "google", 55.75, 37.61)}))

	cached, err := repo.FindCached(ctx, "Tverskaya 1", "google", testNow.Add(23*time.Hour))
	require.NoError(t, err)
	assert.Len(t, cached, 1)

	cached, err = repo.FindCached(ctx, "Tverskaya 1", "google", testNow.Add(25*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, cached)

	// expired rows stay in the history
	all, err := repo.List(ctx, ResultFilter{Query: "Tverskaya 1"})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestFailedRowsAreNeverCached(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveResults(ctx, []*Result{failedResult("Nowhere", "google")}))

	cached, err := repo.FindCached(ctx, "Nowhere", "google", testNow)
	require.NoError(t, err)
	assert.Empty(t, cached)

	got, err := repo.List(ctx, ResultFilter{Query: "Nowhere"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].IsSuccessful)
	assert.Nil(t, got[0].ExpiresAt)
	assert.Nil(t, got[0].Latitude)
	assert.Zero(t, got[0].Confidence)
	assert.Equal(t, "google: request failed: connection refused", *got[0].ErrorMessage)
}

func TestGetResult(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	r := successfulResult("Arbat 10", "nominatim", 55.75, 37.59)
	r.RawResponse = ptr(`{"place_id":1}`)
	require.NoError(t, repo.SaveResults(ctx, []*Result{r}))

	got, err := repo.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "Arbat 10", got.Query)
	assert.Equal(t, "nominatim", got.Provider)
	assert.JSONEq(t, `{"place_id":1}`, *got.RawResponse)
	assert.True(t, got.CreatedAt.Equal(testNow))

	_, err = repo.Get(ctx, r.ID+100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListResults(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveResults(ctx, []*Result{
		successfulResult("a", "google", 1, 1),
		successfulResult("b", "yandex", 2, 2),
		failedResult("c", "google"),
		successfulResult("d", "google", 3, 3),
	}))

	all, err := repo.List(ctx, ResultFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "d", all[0].Query, "newest first")

	google, err := repo.List(ctx, ResultFilter{Provider: "google"})
	require.NoError(t, err)
	assert.Len(t, google, 3)

	failed, err := repo.List(ctx, ResultFilter{Successful: ptr(false)})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "c", failed[0].Query)

	page, err := repo.List(ctx, ResultFilter{Provider: "google", Successful: ptr(true), Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].Query)

	total, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
}

func TestInCells(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	near := successfulResult("near", "google", 55.7539, 37.6208)
	near.H3Cell = ptr(int64(613196571047149567))
	far := successfulResult("far", "google", -34.9, -56.16)
	far.H3Cell = ptr(int64(613196570000000000))
	failed := failedResult("failed", "google")
	failed.H3Cell = ptr(int64(613196571047149567))

	require.NoError(t, repo.SaveResults(ctx, []*Result{near, far, failed}))

	got, err := repo.InCells(ctx, []int64{613196571047149567, 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "near", got[0].Query)

	got, err = repo.InCells(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCountLive(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	short := successfulResult("short", "google", 1, 1)
	short.ExpiresAt = ptr(testNow.Add(time.Hour))

	require.NoError(t, repo.SaveResults(ctx, []*Result{
		short,
		successfulResult("long", "google", 2, 2),
		failedResult("failed", "google"),
	}))

	n, err := repo.CountLive(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = repo.CountLive(ctx, testNow.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPromoteToAddress(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	ok := successfulResult("Red Square", "google", 55.7539, 37.6208)
	ok.Country = ptr("Russia")
	failed := failedResult("Nowhere", "google")
	require.NoError(t, repo.SaveResults(ctx, []*Result{ok, failed}))

	addr, err := repo.PromoteToAddress(ctx, ok.ID, testNow)
	require.NoError(t, err)
	assert.NotZero(t, addr.ID)
	assert.Equal(t, "Russia", *addr.Country)
	assert.Equal(t, "Moscow", *addr.City)
	assert.InDelta(t, 37.6208, *addr.Longitude, 1e-9)

	got, err := repo.Get(ctx, ok.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AddressID)
	assert.Equal(t, addr.ID, *got.AddressID)

	_, err = repo.PromoteToAddress(ctx, ok.ID, testNow)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Message, "already promoted")

	_, err = repo.PromoteToAddress(ctx, failed.ID, testNow)
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Message, "failed lookup")

	_, err = repo.PromoteToAddress(ctx, 9999, testNow)
	assert.ErrorIs(t, err, ErrNotFound)
}

func newMockRepository(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return NewRepository(sqlx.NewDb(db, "postgres")), mock
}

func TestPostgresPlaceholders(t *testing.T) {
	repo, mock := newMockRepository(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE query = $1 AND provider = $2")).
		WithArgs("Red Square", "google", testNow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	cached, err := repo.FindCached(ctx, "Red Square", "google", testNow)
	require.NoError(t, err)
	assert.Empty(t, cached)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE provider = $1 ORDER BY id DESC LIMIT $2 OFFSET $3")).
		WithArgs("yandex", 100, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = repo.List(ctx, ResultFilter{Provider: "yandex"})
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMapsNoRowsToNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM geocoding_results WHERE id = $1")).
		WithArgs(int64(42)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)

	mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("connection reset"))

	_, err = repo.Count(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "counting results")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveResultsRollsBack(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO geocoding_results").
		ExpectQuery().
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.SaveResults(context.Background(), []*Result{successfulResult("x", "google", 1, 1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}
