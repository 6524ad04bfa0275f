package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"property-swipe/internal/models"
)

type DB struct {
	conn *sql.DB
}

func NewDB(host, port, user, password, dbname string) (*DB, error) {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(); err != nil {
		return nil, err
	}

	return &DB{conn: conn}, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// InitSchema creates the listings table if it doesn't exist
func (db *DB) InitSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS listings (
		id BIGINT PRIMARY KEY,
		url TEXT NOT NULL,
		summary TEXT NOT NULL,
		price INTEGER NOT NULL,
		locality TEXT,
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION,
		description TEXT,
		photos JSONB,
		features JSONB,
		price_history JSONB,

		bed_count INTEGER,
		bath_count INTEGER,
		available_from TIMESTAMP,
		view_count INTEGER,
		avg_area_price INTEGER,
		transit_minutes INTEGER,
		cycling_minutes INTEGER,

		removed BOOLEAN NOT NULL DEFAULT FALSE,
		removed_at TIMESTAMP,
		inserted_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_listings_removed ON listings(removed);
	CREATE INDEX IF NOT EXISTS idx_listings_transit ON listings(transit_minutes);
	CREATE INDEX IF NOT EXISTS idx_listings_price ON listings(price);
	`
	_, err := db.conn.Exec(query)
	return err
}

const listingColumns = `
	id, url, summary, price, locality, latitude, longitude, description,
	photos, features, price_history,
	bed_count, bath_count, available_from, view_count, avg_area_price,
	transit_minutes, cycling_minutes,
	removed, removed_at, inserted_at, updated_at`

// UpsertListing inserts a listing or refreshes an existing row. inserted_at
// is written once on first insert and never changed after; updated_at
// advances every cycle and the removal flag is always cleared.
func (db *DB) UpsertListing(listing *models.Listing, now time.Time) error {
	photos, err := json.Marshal(listing.Photos)
	if err != nil {
		return err
	}
	features, err := json.Marshal(listing.Features)
	if err != nil {
		return err
	}
	history, err := json.Marshal(listing.PriceHistory)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO listings (` + listingColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, FALSE, NULL, $19, $19)
	ON CONFLICT (id) DO UPDATE SET
		url = EXCLUDED.url,
		summary = EXCLUDED.summary,
		price = EXCLUDED.price,
		locality = EXCLUDED.locality,
		latitude = EXCLUDED.latitude,
		longitude = EXCLUDED.longitude,
		description = EXCLUDED.description,
		photos = EXCLUDED.photos,
		features = EXCLUDED.features,
		price_history = EXCLUDED.price_history,
		bed_count = EXCLUDED.bed_count,
		bath_count = EXCLUDED.bath_count,
		available_from = EXCLUDED.available_from,
		view_count = EXCLUDED.view_count,
		avg_area_price = EXCLUDED.avg_area_price,
		transit_minutes = EXCLUDED.transit_minutes,
		cycling_minutes = EXCLUDED.cycling_minutes,
		removed = FALSE,
		removed_at = NULL,
		updated_at = EXCLUDED.updated_at
	`
	_, err = db.conn.Exec(query,
		listing.ID, listing.URL, listing.Summary, listing.Price, listing.Locality,
		listing.Latitude, listing.Longitude, listing.Description,
		photos, features, history,
		listing.BedCount, listing.BathCount, listing.AvailableFrom,
		listing.ViewCount, listing.AvgAreaPrice,
		listing.TransitMinutes, listing.CyclingMinutes,
		now)
	return err
}

func scanListing(scan func(dest ...interface{}) error) (*models.Listing, error) {
	var l models.Listing
	var photos, features, history []byte

	err := scan(
		&l.ID, &l.URL, &l.Summary, &l.Price, &l.Locality,
		&l.Latitude, &l.Longitude, &l.Description,
		&photos, &features, &history,
		&l.BedCount, &l.BathCount, &l.AvailableFrom,
		&l.ViewCount, &l.AvgAreaPrice,
		&l.TransitMinutes, &l.CyclingMinutes,
		&l.Removed, &l.RemovedAt, &l.InsertedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(photos) > 0 {
		if err := json.Unmarshal(photos, &l.Photos); err != nil {
			return nil, err
		}
	}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &l.Features); err != nil {
			return nil, err
		}
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &l.PriceHistory); err != nil {
			return nil, err
		}
	}
	return &l, nil
}

// GetListing retrieves a listing by ID
func (db *DB) GetListing(id int64) (*models.Listing, error) {
	row := db.conn.QueryRow(`SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	return scanListing(row.Scan)
}

// ActiveListings retrieves active listings within the transit limit, sorted
// by commute then price. Unknown commutes sort last.
func (db *DB) ActiveListings(maxTransitMinutes int) ([]models.Listing, error) {
	query := `
	SELECT ` + listingColumns + `
	FROM listings
	WHERE removed = FALSE
	  AND (transit_minutes IS NULL OR transit_minutes < $1)
	ORDER BY transit_minutes ASC NULLS LAST, price ASC
	`
	rows, err := db.conn.Query(query, maxTransitMinutes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		l, err := scanListing(rows.Scan)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

// ActiveListingIDs returns the IDs of all listings not marked removed.
func (db *DB) ActiveListingIDs() ([]int64, error) {
	rows, err := db.conn.Query(`SELECT id FROM listings WHERE removed = FALSE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkListingsRemoved flags the given listings as removed, preserving the
// timestamp of rows already removed.
func (db *DB) MarkListingsRemoved(ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := db.conn.Exec(`
		UPDATE listings
		SET removed = TRUE, removed_at = $2, updated_at = $2
		WHERE id = ANY($1) AND removed = FALSE`,
		pq.Array(ids), at)
	return err
}

// RemovedListingIDsBefore returns listings marked removed before cutoff.
func (db *DB) RemovedListingIDsBefore(cutoff time.Time) ([]int64, error) {
	rows, err := db.conn.Query(`SELECT id FROM listings WHERE removed = TRUE AND removed_at < $1`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PurgeListings permanently deletes the given listings.
func (db *DB) PurgeListings(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := db.conn.Exec(`DELETE FROM listings WHERE id = ANY($1)`, pq.Array(ids))
	return err
}
