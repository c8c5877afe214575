//////////////////////////////////////////////////////////////////////////////
//
// Persistent stream records
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package store

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/golang/groupcache/lru"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lanikai/rtsprelay/internal/logging"
)

var log = logging.DefaultLogger.WithTag("store")

var (
	ErrNotFound   = errors.New("stream not found")
	ErrInvalidURL = errors.New("URL must be an RTSP stream")
)

// Stream is a relayable RTSP source.
type Stream struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	Name                 string    `gorm:"size:255;not null" json:"name"`
	URL                  string    `gorm:"not null" json:"url"`
	IsActive             bool      `gorm:"not null;default:false" json:"is_active"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
	LastError            *string   `json:"last_error"`
	ReconnectionAttempts int       `gorm:"not null;default:0" json:"reconnection_attempts"`
}

// ValidateURL accepts only rtsp:// URLs.
func ValidateURL(url string) error {
	if !strings.HasPrefix(url, "rtsp://") {
		return ErrInvalidURL
	}
	return nil
}

type lookupEntry struct {
	url    string
	active bool
}

// Store keeps stream records in a SQL database. Lookups, which happen on
// every start command, are answered from an LRU cache that writes through
// this Store invalidate.
type Store struct {
	db *gorm.DB

	cacheMu sync.Mutex
	cache   *lru.Cache

	// Bumped by every invalidation. A lookup only caches what it read if no
	// write was invalidated while it was reading.
	cacheGen uint64
}

const DefaultCacheSize = 256

// Open connects to a sqlite database at dsn and migrates the schema. Use
// "file::memory:?cache=shared" or ":memory:" for a throwaway database.
func Open(dsn string, cacheSize int) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open database %s", dsn)
	}
	return New(db, cacheSize)
}

// New wraps an existing gorm connection.
func New(db *gorm.DB, cacheSize int) (*Store, error) {
	if err := db.AutoMigrate(&Stream{}); err != nil {
		return nil, errors.Wrap(err, "migrate streams")
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	return &Store{db: db, cache: lru.New(cacheSize)}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) invalidate(id uint) {
	s.cacheMu.Lock()
	s.cache.Remove(id)
	s.cacheGen++
	s.cacheMu.Unlock()
}

// Create inserts a new stream. The ID and timestamps are filled in.
func (s *Store) Create(st *Stream) error {
	if err := ValidateURL(st.URL); err != nil {
		return err
	}
	st.ID = 0
	st.LastError = nil
	st.ReconnectionAttempts = 0
	return errors.Wrap(s.db.Create(st).Error, "create stream")
}

func (s *Store) Get(id uint) (*Stream, error) {
	var st Stream
	err := s.db.First(&st, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get stream %d", id)
	}
	return &st, nil
}

// List returns all streams, newest first.
func (s *Store) List() ([]Stream, error) {
	var streams []Stream
	err := s.db.Order("created_at desc").Order("id desc").Find(&streams).Error
	return streams, errors.Wrap(err, "list streams")
}

// Update changes a stream's name and URL.
func (s *Store) Update(id uint, name, url string) error {
	if err := ValidateURL(url); err != nil {
		return err
	}
	return s.updates(id, map[string]interface{}{"name": name, "url": url})
}

// SetActive activates or deactivates a stream. Only active streams can be
// started.
func (s *Store) SetActive(id uint, active bool) error {
	return s.updates(id, map[string]interface{}{"is_active": active})
}

func (s *Store) updates(id uint, values map[string]interface{}) error {
	res := s.db.Model(&Stream{}).Where("id = ?", id).Updates(values)
	s.invalidate(id)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update stream %d", id)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) Delete(id uint) error {
	res := s.db.Delete(&Stream{}, id)
	s.invalidate(id)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "delete stream %d", id)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Lookup returns the URL of a stream and whether it may be started.
func (s *Store) Lookup(id uint) (url string, active bool, err error) {
	s.cacheMu.Lock()
	v, ok := s.cache.Get(id)
	gen := s.cacheGen
	s.cacheMu.Unlock()
	if ok {
		e := v.(lookupEntry)
		return e.url, e.active, nil
	}

	st, err := s.Get(id)
	if err != nil {
		return "", false, err
	}

	s.cacheMu.Lock()
	if s.cacheGen == gen {
		s.cache.Add(id, lookupEntry{st.URL, st.IsActive})
	}
	s.cacheMu.Unlock()
	return st.URL, st.IsActive, nil
}

// RecordStatus stores the outcome of the latest relay attempt. An empty
// lastError clears the stored error.
func (s *Store) RecordStatus(id uint, lastError string, attempts int) error {
	var le interface{}
	if lastError != "" {
		le = lastError
	}
	err := s.db.Model(&Stream{}).Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"last_error":            le,
			"reconnection_attempts": attempts,
		}).Error
	return errors.Wrapf(err, "record status of stream %d", id)
}

// ParseID converts a session id, as it appears in URLs, to a stream ID.
func ParseID(s string) (uint, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, ErrNotFound
	}
	return uint(n), nil
}

// BySessionID adapts a Store to session ids, which are decimal strings.
type BySessionID struct {
	*Store
}

func (s BySessionID) Lookup(streamID string) (url string, active bool, err error) {
	id, err := ParseID(streamID)
	if err != nil {
		return "", false, err
	}
	return s.Store.Lookup(id)
}

func (s BySessionID) RecordStatus(streamID, lastError string, attempts int) error {
	id, err := ParseID(streamID)
	if err != nil {
		return err
	}
	if err := s.Store.RecordStatus(id, lastError, attempts); err != nil {
		log.Debug("%v", err)
		return err
	}
	return nil
}

// SessionID is the session id under which a stream is relayed.
func SessionID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
