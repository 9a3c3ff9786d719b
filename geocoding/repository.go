// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // register duckdb driver
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // register postgres driver
)

func init() {
	sqlx.BindDriver("duckdb", sqlx.QUESTION)
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	maxNearbyRows    = 1000
)

const resultColumns = `
	id, query, latitude, longitude, formatted_address,
	country, region, city, street, house_number, postal_code,
	place_id, place_type, accuracy, confidence, provider, external_id,
	raw_response, is_successful, error_message, created_at, expires_at,
	address_id, h3_cell`

// Repository persists geocoding results and the addresses promoted from them.
type Repository interface {
	// CreateSchema creates the tables, sequences and indexes if missing
	CreateSchema(ctx context.Context) error

	// FindCached returns the successful, unexpired results for the literal
	// (query, provider) pair
	FindCached(ctx context.Context, query, provider string, now time.Time) ([]Result, error)

	// SaveResults inserts all results in one transaction, assigning their IDs
	SaveResults(ctx context.Context, results []*Result) error

	// Get returns one result or ErrNotFound
	Get(ctx context.Context, id int64) (*Result, error)

	// List browses the history, expired rows included, newest first
	List(ctx context.Context, filter ResultFilter) ([]Result, error)

	// InCells returns successful results whose H3 cell is one of cells
	InCells(ctx context.Context, cells []int64) ([]Result, error)

	// CountLive counts the rows a cache lookup could still return
	CountLive(ctx context.Context, now time.Time) (int, error)

	// Count returns the total number of stored results
	Count(ctx context.Context) (int, error)

	// PromoteToAddress creates an address from a successful result and
	// links it back through address_id
	PromoteToAddress(ctx context.Context, resultID int64, now time.Time) (*Address, error)

	// Ping checks the database is reachable
	Ping(ctx context.Context) error
}

type sqlRepository struct {
	db *sqlx.DB
}

// NewRepository creates a Repository on top of db.
func NewRepository(db *sqlx.DB) Repository {
	return &sqlRepository{db: db}
}

// OpenDB opens a duckdb or postgres database. An empty duckdb dsn opens an
// in-memory database.
func OpenDB(driver, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}

	return db, nil
}

func (r *sqlRepository) CreateSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE SEQUENCE IF NOT EXISTS geocoding_results_seq START 1;

		CREATE TABLE IF NOT EXISTS geocoding_results (
			id BIGINT PRIMARY KEY DEFAULT nextval('geocoding_results_seq'),
			query VARCHAR(1000) NOT NULL,
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			formatted_address TEXT,
			country VARCHAR,
			region VARCHAR,
			city VARCHAR,
			street VARCHAR,
			house_number VARCHAR,
			postal_code VARCHAR,
			place_id VARCHAR,
			place_type VARCHAR,
			accuracy VARCHAR,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			provider VARCHAR NOT NULL,
			external_id VARCHAR,
			raw_response TEXT,
			is_successful BOOLEAN NOT NULL,
			error_message TEXT,
			created_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP,
			address_id BIGINT,
			h3_cell BIGINT
		);

		CREATE INDEX IF NOT EXISTS geocoding_results_lookup_idx
			ON geocoding_results (query, provider);

		CREATE SEQUENCE IF NOT EXISTS addresses_seq START 1;

		CREATE TABLE IF NOT EXISTS addresses (
			id BIGINT PRIMARY KEY DEFAULT nextval('addresses_seq'),
			country VARCHAR,
			region VARCHAR,
			city VARCHAR,
			street VARCHAR,
			house_number VARCHAR,
			postal_code VARCHAR,
			formatted_address TEXT,
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			created_at TIMESTAMP NOT NULL
		);
	`)

	return err
}

func (r *sqlRepository) FindCached(ctx context.Context, query, provider string, now time.Time) ([]Result, error) {
	results := []Result{}

	err := r.db.SelectContext(ctx, &results, r.db.Rebind(`
		SELECT `+resultColumns+`
		FROM geocoding_results
		WHERE query = ? AND provider = ?
		AND is_successful = TRUE
		AND expires_at > ?
		ORDER BY id
	`), query, provider, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("looking up cached results: %w", err)
	}

	return results, nil
}

const insertResult = `
	INSERT INTO geocoding_results (
		query, latitude, longitude, formatted_address,
		country, region, city, street, house_number, postal_code,
		place_id, place_type, accuracy, confidence, provider, external_id,
		raw_response, is_successful, error_message, created_at, expires_at,
		address_id, h3_cell
	) VALUES (
		:query, :latitude, :longitude, :formatted_address,
		:country, :region, :city, :street, :house_number, :postal_code,
		:place_id, :place_type, :accuracy, :confidence, :provider, :external_id,
		:raw_response, :is_successful, :error_message, :created_at, :expires_at,
		:address_id, :h3_cell
	) RETURNING id`

func (r *sqlRepository) SaveResults(ctx context.Context, results []*Result) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}

	stmt, err := tx.PrepareNamedContext(ctx, insertResult)
	if err != nil {
		return rollback(tx, fmt.Errorf("preparing insert: %w", err))
	}
	defer stmt.Close()

	for _, res := range results {
		res.CreatedAt = res.CreatedAt.UTC()
		if res.ExpiresAt != nil {
			res.ExpiresAt = ptr(res.ExpiresAt.UTC())
		}

		if err := stmt.QueryRowxContext(ctx, res).Scan(&res.ID); err != nil {
			return rollback(tx, fmt.Errorf("inserting result for %q: %w", res.Query, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing results: %w", err)
	}

	return nil
}

// rollback aborts tx and returns cause, joined with any rollback failure.
func rollback(tx *sqlx.Tx, cause error) error {
	if rErr := tx.Rollback(); rErr != nil {
		return errors.Join(cause, rErr)
	}

	return cause
}

func (r *sqlRepository) Get(ctx context.Context, id int64) (*Result, error) {
	var res Result

	err := r.db.GetContext(ctx, &res, r.db.Rebind(`SELECT `+resultColumns+` FROM geocoding_results WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("getting result %d: %w", id, err)
	}

	return &res, nil
}

func (r *sqlRepository) List(ctx context.Context, filter ResultFilter) ([]Result, error) {
	var (
		where []string
		args  []any
	)

	if filter.Query != "" {
		where = append(where, "query = ?")
		args = append(args, filter.Query)
	}

	if filter.Provider != "" {
		where = append(where, "provider = ?")
		args = append(args, filter.Provider)
	}

	if filter.Successful != nil {
		where = append(where, "is_successful = ?")
		args = append(args, *filter.Successful)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	limit = min(limit, maxListLimit)

	query := `SELECT ` + resultColumns + ` FROM geocoding_results`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}

	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`

	args = append(args, limit, max(filter.Offset, 0))

	results := []Result{}
	if err := r.db.SelectContext(ctx, &results, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}

	return results, nil
}

func (r *sqlRepository) InCells(ctx context.Context, cells []int64) ([]Result, error) {
	results := []Result{}
	if len(cells) == 0 {
		return results, nil
	}

	query, args, err := sqlx.In(`
		SELECT `+resultColumns+`
		FROM geocoding_results
		WHERE is_successful = TRUE AND h3_cell IN (?)
		ORDER BY id
		LIMIT ?
	`, cells, maxNearbyRows)
	if err != nil {
		return nil, fmt.Errorf("expanding cells: %w", err)
	}

	if err := r.db.SelectContext(ctx, &results, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing results by cell: %w", err)
	}

	return results, nil
}

func (r *sqlRepository) CountLive(ctx context.Context, now time.Time) (int, error) {
	var n int

	err := r.db.GetContext(ctx, &n, r.db.Rebind(`
		SELECT COUNT(*) FROM geocoding_results
		WHERE is_successful = TRUE AND expires_at > ?
	`), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("counting live results: %w", err)
	}

	return n, nil
}

func (r *sqlRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM geocoding_results`); err != nil {
		return 0, fmt.Errorf("counting results: %w", err)
	}

	return n, nil
}

func (r *sqlRepository) PromoteToAddress(ctx context.Context, resultID int64, now time.Time) (*Address, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}

	var res Result

	err = tx.GetContext(ctx, &res, tx.Rebind(`SELECT `+resultColumns+` FROM geocoding_results WHERE id = ?`), resultID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rollback(tx, ErrNotFound)
	}

	if err != nil {
		return nil, rollback(tx, fmt.Errorf("getting result %d: %w", resultID, err))
	}

	if !res.IsSuccessful {
		return nil, rollback(tx, invalid("id", "result %d is a failed lookup", resultID))
	}

	if res.AddressID != nil {
		return nil, rollback(tx, invalid("id", "result %d already promoted to address %d", resultID, *res.AddressID))
	}

	addr := &Address{
		Country:          res.Country,
		Region:           res.Region,
		City:             res.City,
		Street:           res.Street,
		HouseNumber:      res.HouseNumber,
		PostalCode:       res.PostalCode,
		FormattedAddress: res.FormattedAddress,
		Latitude:         res.Latitude,
		Longitude:        res.Longitude,
		CreatedAt:        now.UTC(),
	}

	err = tx.QueryRowxContext(ctx, tx.Rebind(`
		INSERT INTO addresses (
			country, region, city, street, house_number, postal_code,
			formatted_address, latitude, longitude, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`),
		addr.Country, addr.Region, addr.City, addr.Street, addr.HouseNumber, addr.PostalCode,
		addr.FormattedAddress, addr.Latitude, addr.Longitude, addr.CreatedAt,
	).Scan(&addr.ID)
	if err != nil {
		return nil, rollback(tx, fmt.Errorf("inserting address: %w", err))
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE geocoding_results SET address_id = ? WHERE id = ?`), addr.ID, resultID); err != nil {
		return nil, rollback(tx, fmt.Errorf("linking address: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing address: %w", err)
	}

	return addr, nil
}

func (r *sqlRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
