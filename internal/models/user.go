package models

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusDisabled  UserStatus = "disabled"
	UserStatusSuspended UserStatus = "suspended"
)

// User rows are never hard-deleted, only moved to a non-active status.
type User struct {
	BaseModel
	Email           string     `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash    string     `json:"-" gorm:"type:text;not null"`
	DisplayName     string     `json:"displayName" gorm:"type:varchar(100);not null"`
	Status          UserStatus `json:"status" gorm:"type:varchar(20);not null;default:'active';index"`
	TokenVersion    int        `json:"-" gorm:"not null;default:0"`
	QuotaUsedBytes  int64      `json:"quotaUsedBytes" gorm:"not null;default:0"`
	QuotaLimitBytes *int64     `json:"quotaLimitBytes,omitempty"`

	Roles   []Role   `json:"-" gorm:"many2many:user_roles"`
	Files   []File   `json:"-" gorm:"foreignKey:OwnerID"`
	Folders []Folder `json:"-" gorm:"foreignKey:OwnerID"`
}

func (u *User) Active() bool {
	return u.Status == UserStatusActive
}
