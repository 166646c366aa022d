package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Gopher0727/RoleInvite/internal/autorole"
)

var ErrCommunityNotFound = fmt.Errorf("community %w", autorole.ErrNotFound)

// Directory 基于 PostgreSQL 的社区目录，实现 autorole.Directory
type Directory struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Directory {
	return &Directory{db: db, now: time.Now}
}

// Self 计算服务成员的最高角色位置与合并后的权限
func (d *Directory) Self(ctx context.Context, community string) (*autorole.SelfMember, error) {
	return d.self(d.db.WithContext(ctx), community)
}

func (d *Directory) self(tx *gorm.DB, community string) (*autorole.SelfMember, error) {
	var c Community
	if err := tx.Where("id = ?", community).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCommunityNotFound, community)
		}
		return nil, err
	}

	var roles []Role
	err := tx.Model(&Role{}).
		Joins("JOIN member_roles ON member_roles.role_id = roles.id").
		Where("member_roles.community_id = ? AND member_roles.member_id = ?", community, c.ServiceMemberID).
		Find(&roles).Error
	if err != nil {
		return nil, err
	}

	self := &autorole.SelfMember{}
	var mask uint64
	for _, r := range roles {
		if r.Position > self.TopRolePosition {
			self.TopRolePosition = r.Position
		}
		mask |= uint64(r.Permissions)
	}
	self.Permissions = autorole.PermissionSetFromMask(mask)
	return self, nil
}

func (d *Directory) activeInvites(tx *gorm.DB, community string) *gorm.DB {
	return tx.Model(&Invite{}).
		Where("community_id = ?", community).
		Where("expires_at IS NULL OR expires_at > ?", d.now())
}

// ListInvites 列出社区有效邀请，需要管理服务器权限
func (d *Directory) ListInvites(ctx context.Context, community string) ([]autorole.Invite, error) {
	tx := d.db.WithContext(ctx)
	self, err := d.self(tx, community)
	if err != nil {
		return nil, err
	}
	if !self.Permissions.Has(autorole.PermManageServer) {
		return nil, autorole.ErrForbidden
	}

	var rows []Invite
	if err := d.activeInvites(tx, community).Order("code").Find(&rows).Error; err != nil {
		return nil, err
	}
	invites := make([]autorole.Invite, len(rows))
	for i, row := range rows {
		invites[i] = autorole.Invite{Code: row.Code, ChannelID: row.ChannelID, Uses: row.Uses}
	}
	return invites, nil
}

func (d *Directory) GetInvite(ctx context.Context, community, code string) (*autorole.Invite, error) {
	var row Invite
	err := d.activeInvites(d.db.WithContext(ctx), community).Where("code = ?", code).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", autorole.ErrInviteNotFound, code)
	}
	if err != nil {
		return nil, err
	}
	return &autorole.Invite{Code: row.Code, ChannelID: row.ChannelID, Uses: row.Uses}, nil
}

func (d *Directory) ListRoles(ctx context.Context, community string) ([]autorole.Role, error) {
	var rows []Role
	err := d.db.WithContext(ctx).Where("community_id = ?", community).Order("position").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	roles := make([]autorole.Role, len(rows))
	for i, row := range rows {
		roles[i] = toRole(row)
	}
	return roles, nil
}

func (d *Directory) ResolveRole(ctx context.Context, community string, id autorole.RoleID) (*autorole.Role, error) {
	var row Role
	err := d.db.WithContext(ctx).Where("community_id = ? AND id = ?", community, string(id)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	role := toRole(row)
	return &role, nil
}

// GrantRoles 在一个事务内授予全部角色
// 缺少管理角色权限返回 ErrForbidden，角色不低于服务最高角色返回 ErrHierarchyViolation
func (d *Directory) GrantRoles(ctx context.Context, community, member string, roles []autorole.RoleID, reason string) error {
	if len(roles) == 0 {
		return nil
	}
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		self, err := d.self(tx, community)
		if err != nil {
			return err
		}
		if !self.Permissions.Has(autorole.PermManageRoles) {
			return autorole.ErrForbidden
		}

		ids := make([]string, len(roles))
		for i, id := range roles {
			ids[i] = string(id)
		}
		var found []Role
		if err := tx.Where("community_id = ? AND id IN ?", community, ids).Find(&found).Error; err != nil {
			return err
		}
		if len(found) != len(ids) {
			return fmt.Errorf("%w: %d of %d roles", autorole.ErrRoleNotFound, len(ids)-len(found), len(ids))
		}
		for _, r := range found {
			if r.Position >= self.TopRolePosition {
				return fmt.Errorf("%w: %s", autorole.ErrHierarchyViolation, r.ID)
			}
		}

		rows := make([]MemberRole, len(ids))
		for i, id := range ids {
			rows[i] = MemberRole{CommunityID: community, MemberID: member, RoleID: id, Reason: reason}
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	})
}

func toRole(row Role) autorole.Role {
	return autorole.Role{ID: autorole.RoleID(row.ID), Name: row.Name, Position: row.Position}
}
