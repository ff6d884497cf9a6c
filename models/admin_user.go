package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AdminUser is the single operator account guarding the API.
type AdminUser struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CheckPassword verifies a plaintext password against the stored hash.
func (u *AdminUser) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// SetPassword hashes and stores a new password.
func (u *AdminUser) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

// MigrateAdminModels runs database migrations for admin models
func MigrateAdminModels(db *gorm.DB) error {
	return db.AutoMigrate(&AdminUser{})
}

// SeedDefaultAdminUser creates the admin account on first boot using the
// configured password. An existing account is never overwritten.
func SeedDefaultAdminUser(db *gorm.DB, password string) error {
	var count int64
	if err := db.Model(&AdminUser{}).Where("username = ?", "admin").Count(&count).Error; err != nil {
		return err
	}
	if count > 0 || password == "" {
		return nil
	}
	user := AdminUser{Username: "admin"}
	if err := user.SetPassword(password); err != nil {
		return err
	}
	return db.Create(&user).Error
}
