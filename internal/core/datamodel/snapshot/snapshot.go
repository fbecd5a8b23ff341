package snapshot

import "time"

type StateSnapshot struct {
	ID         string    `gorm:"primaryKey;column:id"`
	Reason     string    `gorm:"column:reason;not null"`
	EntryCount int       `gorm:"column:entry_count;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;index;not null"`

	Entries []SnapshotEntry `gorm:"foreignKey:SnapshotID;constraint:OnDelete:CASCADE"`
}

func (StateSnapshot) TableName() string {
	return "state_snapshots"
}

type SnapshotEntry struct {
	ID         int64  `gorm:"primaryKey"`
	SnapshotID string `gorm:"column:snapshot_id;index;not null"`
	Key        string `gorm:"column:key;not null"`
	Payload    string `gorm:"column:payload;not null"`
}

func (SnapshotEntry) TableName() string {
	return "snapshot_entries"
}
