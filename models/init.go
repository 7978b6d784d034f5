package models

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// SeedAdmin creates the bootstrap admin account, or repairs its role and
// status if the account already exists. The password is only used on creation.
func SeedAdmin(db *gorm.DB, username, password string) error {
	var admin User
	err := db.Where("username = ?", username).First(&admin).Error
	if err == nil {
		return db.Model(&admin).Updates(map[string]interface{}{
			"role":   RoleAdmin,
			"status": StatusApproved,
		}).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	if password == "" {
		return errors.New("admin password is required to create the admin account")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	return db.Create(&User{
		Username:     username,
		PasswordHash: string(hash),
		Role:         RoleAdmin,
		Status:       StatusApproved,
	}).Error
}

// AllModels lists every table in migration order
func AllModels() []interface{} {
	return []interface{}{
		&Team{},
		&User{},
		&Group{},
		&Note{},
		&Image{},
	}
}
