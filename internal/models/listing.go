package models

import (
	"fmt"
	"time"
)

// Listing is one property advertisement, keyed by the site-assigned listing ID.
// The ID is the only stable join key across visits and the upsert key in the store.
type Listing struct {
	// Identity. The JSON name must stay "id": it is the search index's
	// primary-key attribute, and deletes address documents by it.
	ID  int64  `gorm:"primaryKey;autoIncrement:false" json:"id"`
	URL string `gorm:"type:varchar(500);not null" json:"url"`

	// Authoritative fields (from the detail page linked-data block)
	Summary   string  `gorm:"type:text;not null" json:"summary"`
	Price     int     `gorm:"type:int;not null;index" json:"price"`
	Locality  string  `gorm:"type:varchar(200)" json:"locality,omitempty"`
	Latitude  float64 `gorm:"type:decimal(10,7)" json:"latitude"`
	Longitude float64 `gorm:"type:decimal(10,7)" json:"longitude"`

	// Supplementary fields (markup; all optional)
	Description   string       `gorm:"type:text" json:"description,omitempty"`
	Photos        []string     `gorm:"serializer:json" json:"photos"`
	Features      []string     `gorm:"serializer:json" json:"features"`
	PriceHistory  []PricePoint `gorm:"serializer:json" json:"price_history"`
	BedCount      *int         `gorm:"type:int" json:"bed_count,omitempty"`
	BathCount     *int         `gorm:"type:int" json:"bath_count,omitempty"`
	AvailableFrom *time.Time   `gorm:"type:datetime" json:"available_from,omitempty"`
	ViewCount     *int         `gorm:"type:int" json:"view_count,omitempty"`
	AvgAreaPrice  *int         `gorm:"type:int" json:"avg_area_price,omitempty"`

	// Commute enrichment; nil means the destination is unreachable by that
	// mode (or the lookup was skipped), never a parse failure.
	TransitMinutes *int `gorm:"type:int;index" json:"transit_minutes,omitempty"`
	CyclingMinutes *int `gorm:"type:int;index" json:"cycling_minutes,omitempty"`

	// Lifecycle (logical removal)
	Removed   bool       `gorm:"not null;default:false;index" json:"removed"`
	RemovedAt *time.Time `gorm:"type:datetime" json:"removed_at,omitempty"`

	// Timestamps are managed by the store: inserted_at is set exactly once at
	// first persistence, updated_at advances on every successful re-fetch.
	InsertedAt time.Time `gorm:"type:datetime;not null" json:"inserted_at"`
	UpdatedAt  time.Time `gorm:"type:datetime;not null" json:"updated_at"`
}

// PricePoint is one entry of a listing's advertised price history, newest first.
type PricePoint struct {
	Date  time.Time `json:"date"`
	Price int       `json:"price"`
}

// TableName specifies the table name
func (Listing) TableName() string {
	return "listings"
}

// IsActive reports whether the listing is currently advertised.
func (l *Listing) IsActive() bool {
	return !l.Removed
}

// Stub is the minimal data obtainable from a grid page without a detail
// fetch. Coordinates are optional; HasCoords tells whether they were present.
type Stub struct {
	ID        int64   `json:"listing_id"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	HasCoords bool    `json:"has_coords"`
}

// ListingURL builds the canonical detail page URL for a listing ID.
func ListingURL(baseURL string, id int64) string {
	return fmt.Sprintf("%s/to-rent/details/%d", baseURL, id)
}
