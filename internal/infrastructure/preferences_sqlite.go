package infrastructure

import (
	"errors"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const prefMobileDownloads = "mobile_downloads_allowed"

// SQLitePreferences stores user preferences next to the cache
type SQLitePreferences struct {
	db                  *gorm.DB
	defaultAllowsMobile bool
}

// NewSQLitePreferences creates preferences backed by the cache database.
// defaultAllowsMobile applies until the user sets the preference.
func NewSQLitePreferences(store *SQLiteCacheStore, defaultAllowsMobile bool) *SQLitePreferences {
	return &SQLitePreferences{db: store.DB(), defaultAllowsMobile: defaultAllowsMobile}
}

// MobileDownloadsAllowed reports whether downloads may use metered connections
func (p *SQLitePreferences) MobileDownloadsAllowed() bool {
	value, ok, err := p.get(prefMobileDownloads)
	if err != nil || !ok {
		return p.defaultAllowsMobile
	}
	allowed, err := strconv.ParseBool(value)
	if err != nil {
		return p.defaultAllowsMobile
	}
	return allowed
}

// SetMobileDownloadsAllowed persists the mobile download preference
func (p *SQLitePreferences) SetMobileDownloadsAllowed(allowed bool) error {
	return p.set(prefMobileDownloads, strconv.FormatBool(allowed))
}

func (p *SQLitePreferences) get(key string) (string, bool, error) {
	var pref preference
	err := p.db.First(&pref, "name = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return pref.Value, true, nil
}

func (p *SQLitePreferences) set(key, value string) error {
	return p.db.Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&preference{Name: key, Value: value, UpdatedAt: time.Now()}).Error
}
