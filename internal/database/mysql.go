package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"property-swipe/internal/models"
)

type GormDB struct {
	db *gorm.DB
}

func NewGormDB(host, port, user, password, dbname string) (*GormDB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		user, password, host, port, dbname)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	})
	if err != nil {
		return nil, err
	}

	// Test connection
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, err
	}

	return &GormDB{db: db}, nil
}

// NewGormDBFromDB creates a GormDB wrapper from an existing gorm.DB instance
func NewGormDBFromDB(db *gorm.DB) *GormDB {
	return &GormDB{db: db}
}

func (gdb *GormDB) Close() error {
	sqlDB, err := gdb.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InitSchema creates tables using GORM AutoMigrate
func (gdb *GormDB) InitSchema() error {
	return gdb.db.AutoMigrate(&models.Listing{})
}

// UpsertListing inserts a listing or refreshes an existing row. The original
// InsertedAt survives updates; UpdatedAt advances every time. An upsert also
// reactivates a previously removed listing.
func (gdb *GormDB) UpsertListing(listing *models.Listing, now time.Time) error {
	var existing models.Listing
	result := gdb.db.Where("id = ?", listing.ID).First(&existing)

	listing.Removed = false
	listing.RemovedAt = nil
	listing.UpdatedAt = now

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		listing.InsertedAt = now
		return gdb.db.Create(listing).Error
	} else if result.Error != nil {
		return result.Error
	}

	listing.InsertedAt = existing.InsertedAt
	return gdb.db.Save(listing).Error
}

// GetListing retrieves a listing by ID
func (gdb *GormDB) GetListing(id int64) (*models.Listing, error) {
	var listing models.Listing
	if err := gdb.db.Where("id = ?", id).First(&listing).Error; err != nil {
		return nil, err
	}
	return &listing, nil
}

// ActiveListings retrieves active listings within the transit limit, best
// commute first and cheapest first within equal commutes. Listings with an
// unknown transit time sort last but are not excluded.
func (gdb *GormDB) ActiveListings(maxTransitMinutes int) ([]models.Listing, error) {
	var listings []models.Listing
	err := gdb.db.
		Where("removed = ?", false).
		Where("transit_minutes IS NULL OR transit_minutes < ?", maxTransitMinutes).
		Order("CASE WHEN transit_minutes IS NULL THEN 1 ELSE 0 END, transit_minutes ASC, price ASC").
		Find(&listings).Error
	return listings, err
}

// ActiveListingIDs returns the IDs of all listings not marked removed.
func (gdb *GormDB) ActiveListingIDs() ([]int64, error) {
	var ids []int64
	err := gdb.db.Model(&models.Listing{}).
		Where("removed = ?", false).
		Pluck("id", &ids).Error
	return ids, err
}

// MarkListingsRemoved flags the given listings as removed. Already-removed
// rows are untouched, so the original removal timestamp is preserved.
func (gdb *GormDB) MarkListingsRemoved(ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return gdb.db.Model(&models.Listing{}).
		Where("id IN ?", ids).
		Where("removed = ?", false).
		Updates(map[string]interface{}{
			"removed":    true,
			"removed_at": &at,
			"updated_at": at,
		}).Error
}

// RemovedListingIDsBefore returns listings marked removed before cutoff.
func (gdb *GormDB) RemovedListingIDsBefore(cutoff time.Time) ([]int64, error) {
	var ids []int64
	err := gdb.db.Model(&models.Listing{}).
		Where("removed = ?", true).
		Where("removed_at < ?", cutoff).
		Pluck("id", &ids).Error
	return ids, err
}

// PurgeListings permanently deletes the given listings.
func (gdb *GormDB) PurgeListings(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return gdb.db.Where("id IN ?", ids).Delete(&models.Listing{}).Error
}
