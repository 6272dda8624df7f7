// Package store is the state store behind the IRC server. Every record the
// protocol layer touches lives here; connection and delivery goroutines never
// share in-process state, they coordinate purely through these tables.
package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned by every lookup when no matching record exists.
// Callers must distinguish it from transport/storage failure: not-found is
// expected control flow, anything else is an internal error.
var ErrNotFound = errors.New("store: record not found")

// Store wraps a gorm handle with the operations the protocol layer needs.
type Store struct {
	db *gorm.DB
}

// Open connects to the database named by dsn and runs migrations. The driver
// is picked from the DSN scheme: "mysql://..." and "postgres://..." use their
// servers, anything else is treated as a sqlite path.
func Open(dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "mysql://"):
		dialector = mysql.Open(strings.TrimPrefix(dsn, "mysql://"))
	case strings.HasPrefix(dsn, "postgres://"):
		dialector = postgres.Open(dsn)
	default:
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dsn, err)
	}
	return New(db)
}

// New wraps an existing gorm handle and runs migrations. Tests use this with
// an in-memory sqlite database.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&User{}, &Channel{}, &Membership{}, &Ban{}, &Setting{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	// sqlite tolerates exactly one writer; funnel every goroutine through a
	// single connection rather than letting them race into SQLITE_BUSY.
	if db.Dialector.Name() == "sqlite" {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	return &Store{db: db}, nil
}

func wrap(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// ResetPresence clears every trace of live connections: all users are marked
// disconnected with their session keys cleared and all memberships removed.
// Run once at startup; an ungraceful client disconnect leaves stale rows
// behind with no goroutine left to correct them.
func (s *Store) ResetPresence() error {
	err := s.db.Model(&User{}).Where("is_connected = ?", true).
		Updates(map[string]any{"is_connected": false, "session_key": ""}).Error
	if err != nil {
		return err
	}
	return s.db.Where("1 = 1").Delete(&Membership{}).Error
}

// Users

func (s *Store) GetUserByNick(nick string) (*User, error) {
	var u User
	if err := s.db.Where("nick = ?", nick).First(&u).Error; err != nil {
		return nil, wrap(err)
	}
	return &u, nil
}

func (s *Store) GetUserBySession(key string) (*User, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	var u User
	if err := s.db.Where("session_key = ? AND is_connected = ?", key, true).First(&u).Error; err != nil {
		return nil, wrap(err)
	}
	return &u, nil
}

func (s *Store) GetUserByID(id uint) (*User, error) {
	var u User
	if err := s.db.First(&u, id).Error; err != nil {
		return nil, wrap(err)
	}
	return &u, nil
}

func (s *Store) CreateUser(u *User) error {
	return s.db.Create(u).Error
}

// UpdateUser applies a field map to one user row. The map keys are column
// names; a single-row Updates is atomic with respect to other updates on the
// same record, which is all the concurrency model requires.
func (s *Store) UpdateUser(id uint, fields map[string]any) error {
	return s.db.Model(&User{}).Where("id = ?", id).Updates(fields).Error
}

// Channels

func (s *Store) GetChannelByName(name string) (*Channel, error) {
	var c Channel
	if err := s.db.Where("name = ?", name).First(&c).Error; err != nil {
		return nil, wrap(err)
	}
	return &c, nil
}

func (s *Store) GetChannelByID(id uint) (*Channel, error) {
	var c Channel
	if err := s.db.First(&c, id).Error; err != nil {
		return nil, wrap(err)
	}
	return &c, nil
}

// GetChannelContent reads the channel's message slot.
func (s *Store) GetChannelContent(id uint) (string, error) {
	var c Channel
	if err := s.db.Select("content").First(&c, id).Error; err != nil {
		return "", wrap(err)
	}
	return c.Content, nil
}

// SetChannelContent overwrites the channel's message slot. Last writer wins;
// there is deliberately no append and no fencing.
func (s *Store) SetChannelContent(id uint, line string) error {
	return s.db.Model(&Channel{}).Where("id = ?", id).Update("content", line).Error
}

func (s *Store) SetChannelTopic(id uint, topic string) error {
	return s.db.Model(&Channel{}).Where("id = ?", id).Update("topic", topic).Error
}

func (s *Store) ListChannels() ([]Channel, error) {
	var cs []Channel
	if err := s.db.Order("id").Find(&cs).Error; err != nil {
		return nil, err
	}
	return cs, nil
}

func (s *Store) CreateChannel(c *Channel) error {
	if c.CreationTime == 0 {
		c.CreationTime = time.Now().Unix()
	}
	return s.db.Create(c).Error
}

// Memberships

func (s *Store) CreateMembership(userID, channelID uint) (*Membership, error) {
	m := &Membership{UserID: userID, ChannelID: channelID}
	if err := s.db.Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) DeleteMembership(id uint) error {
	return s.db.Delete(&Membership{}, id).Error
}

func (s *Store) DeleteMembershipsByUser(userID uint) error {
	return s.db.Where("user_id = ?", userID).Delete(&Membership{}).Error
}

func (s *Store) DeleteMembershipByUserChannel(userID, channelID uint) error {
	return s.db.Where("user_id = ? AND channel_id = ?", userID, channelID).Delete(&Membership{}).Error
}

func (s *Store) GetMembershipByUserChannel(userID, channelID uint) (*Membership, error) {
	var m Membership
	err := s.db.Where("user_id = ? AND channel_id = ?", userID, channelID).First(&m).Error
	if err != nil {
		return nil, wrap(err)
	}
	return &m, nil
}

func (s *Store) ListMembershipsByUser(userID uint) ([]Membership, error) {
	var ms []Membership
	if err := s.db.Where("user_id = ?", userID).Find(&ms).Error; err != nil {
		return nil, err
	}
	return ms, nil
}

func (s *Store) ListMembershipsByChannel(channelID uint) ([]Membership, error) {
	var ms []Membership
	if err := s.db.Where("channel_id = ?", channelID).Order("id").Find(&ms).Error; err != nil {
		return nil, err
	}
	return ms, nil
}

// GetLastMembership returns the most recently created membership. JOIN uses
// it to bootstrap the delivery watcher's user/channel binding right after
// inserting the row.
func (s *Store) GetLastMembership() (*Membership, error) {
	var m Membership
	if err := s.db.Order("id DESC").First(&m).Error; err != nil {
		return nil, wrap(err)
	}
	return &m, nil
}

func (s *Store) CountMemberships() (int64, error) {
	var n int64
	err := s.db.Model(&Membership{}).Count(&n).Error
	return n, err
}

// Bans

// GetBan looks up an active ban: isIP selects between address bans and
// nickname bans, value is the address or nickname to match.
func (s *Store) GetBan(isIP bool, value string) (*Ban, error) {
	var b Ban
	err := s.db.Where("is_ip = ? AND content = ?", isIP, value).First(&b).Error
	if err != nil {
		return nil, wrap(err)
	}
	return &b, nil
}

func (s *Store) CreateBan(b *Ban) error {
	return s.db.Create(b).Error
}

func (s *Store) DeleteBan(id uint) error {
	return s.db.Delete(&Ban{}, id).Error
}

func (s *Store) ListBans() ([]Ban, error) {
	var bs []Ban
	if err := s.db.Order("id").Find(&bs).Error; err != nil {
		return nil, err
	}
	return bs, nil
}

// Settings

func (s *Store) GetSetting(key string) (string, error) {
	var row Setting
	if err := s.db.Where(&Setting{Key: key}).First(&row).Error; err != nil {
		return "", wrap(err)
	}
	return row.Content, nil
}

func (s *Store) SetSetting(key, content string) error {
	var row Setting
	err := s.db.Where(&Setting{Key: key}).First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return s.db.Create(&Setting{Key: key, Content: content}).Error
	case err != nil:
		return err
	}
	return s.db.Model(&row).Update("content", content).Error
}

// CountConnectedUsers is used by the admin status endpoint.
func (s *Store) CountConnectedUsers() (int64, error) {
	var n int64
	err := s.db.Model(&User{}).Where("is_connected = ?", true).Count(&n).Error
	return n, err
}
