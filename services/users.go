package services

import (
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"notekeeper/models"
)

const MinPasswordLength = 4

// UserInfo describes the signed-in account
type UserInfo struct {
	ID       uint    `json:"id"`
	Username string  `json:"username"`
	Role     string  `json:"role"`
	Status   string  `json:"status"`
	TeamID   *uint   `json:"team_id"`
	TeamName *string `json:"team_name"`
}

type UserService struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewUserService(db *gorm.DB, logger *logrus.Logger) *UserService {
	return &UserService{DB: db, Logger: logger}
}

// Register creates a pending account that an admin has to approve
func (s *UserService) Register(username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, validationError("username and password are required", nil)
	}
	if len(password) < MinPasswordLength {
		return nil, validationError("password must be at least 4 characters", nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, internalError("failed to hash password", err)
	}

	user := models.User{
		Username:     username,
		PasswordHash: string(hash),
		Role:         models.RoleUser,
		Status:       models.StatusPending,
	}
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return conflictError("username already exists", ErrDuplicateUsername)
		}
		return tx.Create(&user).Error
	})
	if err != nil {
		return nil, asServiceError(err, "failed to create account")
	}

	s.Logger.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"username": user.Username,
	}).Info("User registered")
	return &user, nil
}

// Authenticate checks credentials. Only approved accounts may sign in.
func (s *UserService) Authenticate(username, password string) (*models.User, error) {
	var user models.User
	err := s.DB.Where("username = ?", strings.TrimSpace(username)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, unauthorizedError("invalid username or password", ErrBadCredentials)
	}
	if err != nil {
		return nil, internalError("failed to load account", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, unauthorizedError("invalid username or password", ErrBadCredentials)
	}
	if err := CheckStatus(&user); err != nil {
		return nil, err
	}
	return &user, nil
}

// CheckStatus rejects accounts that are not approved
func CheckStatus(user *models.User) error {
	switch user.Status {
	case models.StatusApproved:
		return nil
	case models.StatusPending:
		return forbiddenError("your account is waiting for admin approval")
	case models.StatusRejected:
		return forbiddenError("your account has been rejected")
	default:
		return forbiddenError("your account is not active")
	}
}

func (s *UserService) ChangePassword(rc RequestContext, oldPassword, newPassword string) error {
	if oldPassword == "" || newPassword == "" {
		return validationError("old and new password are required", nil)
	}
	if len(newPassword) < MinPasswordLength {
		return validationError("new password must be at least 4 characters", nil)
	}

	var user models.User
	if err := s.DB.First(&user, rc.UserID).Error; err != nil {
		return internalError("failed to load account", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(oldPassword)); err != nil {
		return validationError("current password is incorrect", nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return internalError("failed to hash password", err)
	}
	if err := s.DB.Model(&user).Update("password_hash", string(hash)).Error; err != nil {
		return internalError("failed to update password", err)
	}

	s.Logger.WithField("user_id", user.ID).Info("Password changed")
	return nil
}

func (s *UserService) Info(rc RequestContext) (*UserInfo, error) {
	var info UserInfo
	res := s.DB.Table("users").
		Select("users.id, users.username, users.role, users.status, users.team_id, teams.name AS team_name").
		Joins("LEFT JOIN teams ON teams.id = users.team_id").
		Where("users.id = ?", rc.UserID).
		Scan(&info)
	if res.Error != nil {
		return nil, internalError("failed to load account", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, notFoundError("user not found", nil)
	}
	return &info, nil
}
