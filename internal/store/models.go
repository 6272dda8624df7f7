package store

// User is one known nickname. Rows are created on first successful NICK and
// never deleted; reconnects update the row in place.
type User struct {
	ID          uint   `gorm:"primaryKey"`
	Nick        string `gorm:"uniqueIndex;size:32"`
	RealName    string
	LastIP      string
	IsConnected bool
	IsOp        bool
	SessionKey  string `gorm:"index;size:36"`
	LastLogin   int64
}

// Channel is a chat room. Content is the message slot: it holds only the
// most recently broadcast line and is overwritten, never appended. A write
// can clobber a line no watcher has observed yet; that lost-update window is
// documented behavior, bounded by the watcher poll period.
type Channel struct {
	ID           uint   `gorm:"primaryKey"`
	Name         string `gorm:"uniqueIndex;size:64"`
	CreationTime int64
	Creator      string
	Topic        string
	Content      string
}

// Membership asserts that a user is currently in a channel. Its existence
// drives broadcast delivery and the permission to PART. Created on JOIN,
// deleted on PART and QUIT.
type Membership struct {
	ID        uint `gorm:"primaryKey"`
	UserID    uint `gorm:"index"`
	ChannelID uint `gorm:"index"`
}

// Ban matches either a remote address (IsIP) or a nickname.
type Ban struct {
	ID      uint `gorm:"primaryKey"`
	IsIP    bool
	Content string `gorm:"size:64"`
}

// Setting is a process-wide key/value pair read at startup.
type Setting struct {
	ID      uint   `gorm:"primaryKey"`
	Key     string `gorm:"uniqueIndex;size:64;column:key"`
	Content string
}
