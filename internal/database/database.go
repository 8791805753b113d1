package database

import (
	"fmt"

	"github.com/driftbox/backend/internal/config"
	"github.com/driftbox/backend/internal/models"
	"github.com/driftbox/backend/pkg/utils"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func Connect(cfg config.DBConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	if err := seedRoles(db); err != nil {
		return nil, err
	}

	if err := seedAdminUser(db); err != nil {
		return nil, err
	}

	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Permission{},
		&models.Role{},
		&models.Folder{},
		&models.File{},
		&models.Share{},
		&models.Activity{},
	); err != nil {
		return err
	}

	if db.Dialector.Name() != "postgres" {
		return nil
	}

	// A share targets exactly one of a file or a folder.
	constraint := `
DO $$
BEGIN
  IF NOT EXISTS (
    SELECT 1
    FROM pg_constraint
    WHERE conname = 'share_target_check'
  ) THEN
    ALTER TABLE shares
    ADD CONSTRAINT share_target_check
    CHECK (
      (file_id IS NOT NULL AND folder_id IS NULL)
      OR
      (file_id IS NULL AND folder_id IS NOT NULL)
    );
  END IF;
END $$;`

	return db.Exec(constraint).Error
}

// Permission slugs are static reference data. The ".any" variants
// bypass ownership and share checks entirely.
var seedPermissions = map[string][]string{
	"admin": {
		"files.read.any",
		"files.delete.any",
		"files.purge.any",
		"folders.read.any",
		"folders.delete.any",
		"folders.purge.any",
		"admin.quota.override",
		"admin.users.manage",
	},
	"user": {
		"files.read",
		"files.write",
		"files.delete",
		"files.share",
		"folders.read",
		"folders.write",
		"folders.delete",
		"folders.share",
	},
}

func seedRoles(db *gorm.DB) error {
	for roleName, slugs := range seedPermissions {
		var role models.Role
		err := db.Where("name = ?", roleName).First(&role).Error
		if err == nil {
			continue
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}

		role = models.Role{Name: roleName}
		for _, slug := range slugs {
			var perm models.Permission
			if err := db.Where("slug = ?", slug).FirstOrCreate(&perm, models.Permission{Slug: slug}).Error; err != nil {
				return err
			}
			role.Permissions = append(role.Permissions, perm)
		}
		if err := db.Create(&role).Error; err != nil {
			return err
		}
	}
	return nil
}

func seedAdminUser(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
		return err
	}

	if count > 0 {
		return nil
	}

	hash, err := utils.HashPassword("admin123")
	if err != nil {
		return err
	}

	var adminRole models.Role
	if err := db.Where("name = ?", "admin").First(&adminRole).Error; err != nil {
		return err
	}

	admin := models.User{
		Email:        "admin@driftbox.local",
		PasswordHash: hash,
		DisplayName:  "System Admin",
		Status:       models.UserStatusActive,
		Roles:        []models.Role{adminRole},
	}

	return db.Create(&admin).Error
}
