// Package domain defines the persistence models for users, direct and group
// messages, and groups. These types are mapped with GORM and are shared by the
// repository, service, and relay layers.
package domain

import (
	"time"
)

// User is a registered account. Users are created through the auth endpoints
// and are read-only from the relay's point of view.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Username: unique login handle, matched case-insensitively by search.
//   - Name: display name shown to other users.
//   - PasswordHash: argon2id encoded hash; never serialized.
//   - Online: live presence, filled in only by presence-aware lookups.
type User struct {
	ID           string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Username     string    `json:"username"   gorm:"type:varchar(64);not null;uniqueIndex:ux_users_username"`
	Name         string    `json:"name"       gorm:"type:varchar(128);not null;default:''"`
	PasswordHash string    `json:"-"          gorm:"type:varchar(255);not null;default:''"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Online       bool      `json:"online,omitempty" gorm:"-"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Message is a single direct or group message.
//
// Exactly one of ReceiverID (direct) or GroupID (IsGroup=true) is set. The
// delivery flags only ever move forward: IsRead implies IsDelivered.
// TempID is the client-side correlation token echoed back so a sender can
// swap its optimistic local copy for the persisted record.
type Message struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	SenderID    string    `json:"sender"       gorm:"type:char(36);not null;index:idx_msg_pair,priority:1"`
	ReceiverID  *string   `json:"receiver,omitempty" gorm:"type:char(36);index:idx_msg_pair,priority:2;index:idx_msg_unread,priority:1"`
	GroupID     *string   `json:"groupId,omitempty"  gorm:"type:char(36);index:idx_msg_group"`
	IsGroup     bool      `json:"isGroup"      gorm:"not null;default:false"`
	Content     string    `json:"content"      gorm:"type:text;not null"`
	TempID      string    `json:"tempId,omitempty" gorm:"type:varchar(128);not null;default:''"`
	Timestamp   time.Time `json:"timestamp"    gorm:"not null;index:idx_msg_pair,priority:3"`
	IsDelivered bool      `json:"isDelivered"  gorm:"not null;default:false"`
	IsRead      bool      `json:"isRead"       gorm:"not null;default:false;index:idx_msg_unread,priority:2"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Group is a named set of users that share a message stream.
type Group struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Name      string    `json:"name"       gorm:"type:varchar(255);not null"`
	CreatedBy string    `json:"created_by" gorm:"type:char(36);not null;index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Members is populated on demand (Preload) when resolving fan-out.
	Members []User `json:"members,omitempty" gorm:"many2many:group_members;joinForeignKey:GroupID;joinReferences:UserID"`
}

// TableName returns the database table name for Group.
func (Group) TableName() string { return "chat_groups" }

// GroupMember is the join row between groups and users.
type GroupMember struct {
	GroupID   string    `gorm:"type:char(36);primaryKey"`
	UserID    string    `gorm:"type:char(36);primaryKey;index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName returns the database table name for GroupMember.
func (GroupMember) TableName() string { return "group_members" }

// UnreadCount is the aggregation row returned for a receiver's unread inbox,
// one per distinct sender.
type UnreadCount struct {
	SenderID       string `json:"_id"`
	Count          int64  `json:"count"`
	SenderUsername string `json:"senderUsername"`
}
