package directory

import (
	"time"

	"gorm.io/gorm"
)

// Community 社区，ServiceMemberID 为本服务在该社区中的成员身份
type Community struct {
	ID              string    `gorm:"primaryKey;size:64" json:"id"`
	Name            string    `gorm:"size:100" json:"name"`
	ServiceMemberID string    `gorm:"size:64;not null" json:"service_member_id"`
	CreatedAt       time.Time `json:"created_at"`
}

func (Community) TableName() string {
	return "communities"
}

// Role 角色，Position 越大层级越高，Permissions 为权限位掩码
type Role struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	CommunityID string    `gorm:"size:64;not null;index" json:"community_id"`
	Name        string    `gorm:"size:100;not null" json:"name"`
	Position    int       `gorm:"not null" json:"position"`
	Permissions int64     `gorm:"not null;default:0" json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Role) TableName() string {
	return "roles"
}

// Invite 邀请码模型
type Invite struct {
	Code        string         `gorm:"primaryKey;size:32" json:"code"`
	CommunityID string         `gorm:"size:64;not null;index" json:"community_id"`
	ChannelID   string         `gorm:"size:64" json:"channel_id"`
	Uses        int            `gorm:"not null;default:0" json:"uses"`
	ExpiresAt   *time.Time     `json:"expires_at"`
	CreatedAt   time.Time      `json:"created_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Invite) TableName() string {
	return "invites"
}

// MemberRole 成员与角色的关联表，联合主键保证授予幂等
type MemberRole struct {
	CommunityID string    `gorm:"primaryKey;size:64" json:"community_id"`
	MemberID    string    `gorm:"primaryKey;size:64" json:"member_id"`
	RoleID      string    `gorm:"primaryKey;size:64" json:"role_id"`
	Reason      string    `gorm:"size:255" json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}

func (MemberRole) TableName() string {
	return "member_roles"
}
