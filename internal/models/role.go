package models

// Permission slugs of the "files.delete.any" form grant an action
// globally, regardless of ownership or shares.
type Permission struct {
	BaseModel
	Slug        string `json:"slug" gorm:"type:varchar(100);uniqueIndex;not null"`
	Description string `json:"description" gorm:"type:varchar(255)"`
}

type Role struct {
	BaseModel
	Name        string       `json:"name" gorm:"type:varchar(50);uniqueIndex;not null"`
	Permissions []Permission `json:"permissions,omitempty" gorm:"many2many:role_permissions"`
}
