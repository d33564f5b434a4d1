package cache

import (
	"fmt"
	"time"
)

// RecordStore persists the saved date of each dataset location.
type RecordStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

// CacheRecord is the bookkeeping entry for one dataset location.
//
//nolint:revive // CacheRecord is the canonical name for this exported type.
type CacheRecord struct {
	// Key is the dataset storage location.
	Key string

	// SavedDate is the "YYYY-MM-DD" date of the last successful save.
	SavedDate string
}

// LookupRecord returns the record stored for key, if any.
func LookupRecord(store RecordStore, key string) (CacheRecord, bool) {
	saved, ok := store.Get(key)
	if !ok || saved == "" {
		return CacheRecord{}, false
	}
	return CacheRecord{Key: key, SavedDate: saved}, true
}

// SaveRecord writes record to store.
func SaveRecord(store RecordStore, record CacheRecord) error {
	if _, err := time.Parse(dateLayout, record.SavedDate); err != nil {
		return fmt.Errorf("invalid saved date %q for %s: %w", record.SavedDate, record.Key, err)
	}
	return store.Set(record.Key, record.SavedDate)
}

// AgeDays returns the number of calendar days between the saved date and today.
// It returns -1 when either date cannot be parsed.
func (r CacheRecord) AgeDays(today string) int {
	saved, err := time.Parse(dateLayout, r.SavedDate)
	if err != nil {
		return -1
	}
	now, err := time.Parse(dateLayout, today)
	if err != nil {
		return -1
	}
	return int(now.Sub(saved).Hours() / hoursPerDay)
}
