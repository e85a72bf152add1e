package store

// Peer is a known chat participant. ID 0 is the local user.
type Peer struct {
	ID       uint   `gorm:"primaryKey"`
	Address  string `gorm:"not null"`
	Username string `gorm:"uniqueIndex;not null"`
}

// Message is one stored chat line. SenderID is nil when the sender's
// username could not be resolved to a peer row.
type Message struct {
	ID       uint  `gorm:"primaryKey"`
	Time     int64 `gorm:"not null"`
	Data     []byte
	SenderID *uint `gorm:"index"`
	Sender   *Peer `gorm:"foreignKey:SenderID"`
}

// HistoryEntry is a message joined with its sender's username.
type HistoryEntry struct {
	Time     int64
	Data     []byte
	Username string
}
