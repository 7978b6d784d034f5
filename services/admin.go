package services

import (
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"notekeeper/models"
)

// UserView is an account as listed to admins
type UserView struct {
	ID        uint      `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	TeamID    *uint     `json:"team_id"`
	TeamName  *string   `json:"team_name"`
	CreatedAt time.Time `json:"created_at"`
}

type PendingUser struct {
	ID        uint      `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

type TeamView struct {
	ID          uint      `json:"id"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
	MemberCount int64     `json:"member_count"`
}

// contentModels carry user_id and team_id and follow their author's team
var contentModels = []interface{}{&models.Group{}, &models.Note{}, &models.Image{}}

type AdminService struct {
	DB     *gorm.DB
	Files  *FileStore
	Logger *logrus.Logger
}

func NewAdminService(db *gorm.DB, files *FileStore, logger *logrus.Logger) *AdminService {
	return &AdminService{DB: db, Files: files, Logger: logger}
}

func (s *AdminService) ListUsers() ([]UserView, error) {
	users := []UserView{}
	err := s.DB.Table("users").
		Select("users.id, users.username, users.role, users.status, users.team_id, users.created_at, teams.name AS team_name").
		Joins("LEFT JOIN teams ON teams.id = users.team_id").
		Order("users.created_at DESC, users.id DESC").
		Scan(&users).Error
	if err != nil {
		return nil, internalError("failed to load users", err)
	}
	return users, nil
}

func (s *AdminService) ListPending() ([]PendingUser, error) {
	users := []PendingUser{}
	err := s.DB.Model(&models.User{}).
		Select("id, username, created_at").
		Where("status = ?", models.StatusPending).
		Order("created_at ASC, id ASC").
		Scan(&users).Error
	if err != nil {
		return nil, internalError("failed to load pending users", err)
	}
	return users, nil
}

func (s *AdminService) Approve(userID uint) error {
	return s.review(userID, models.StatusApproved)
}

func (s *AdminService) Reject(userID uint) error {
	return s.review(userID, models.StatusRejected)
}

// only pending accounts can be reviewed
func (s *AdminService) review(userID uint, status string) error {
	res := s.DB.Model(&models.User{}).
		Where("id = ? AND status = ?", userID, models.StatusPending).
		Update("status", status)
	if res.Error != nil {
		return internalError("failed to update user status", res.Error)
	}
	if res.RowsAffected == 0 {
		return validationError("user not found or already reviewed", nil)
	}

	s.Logger.WithFields(logrus.Fields{
		"user_id": userID,
		"status":  status,
	}).Info("User reviewed")
	return nil
}

// AssignTeam moves a user to teamID (nil removes the team) and re-tags all
// of the user's groups, notes and images with it
func (s *AdminService) AssignTeam(userID uint, teamID *uint) error {
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if teamID != nil {
			var team models.Team
			err := tx.First(&team, *teamID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return validationError("team not found", err)
			}
			if err != nil {
				return err
			}
		}

		res := tx.Model(&models.User{}).Where("id = ?", userID).Update("team_id", teamID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return notFoundError("user not found", nil)
		}

		for _, m := range contentModels {
			if err := tx.Model(m).Where("user_id = ?", userID).Update("team_id", teamID).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return asServiceError(err, "failed to assign team")
	}

	s.Logger.WithFields(logrus.Fields{
		"user_id": userID,
		"team_id": teamID,
	}).Info("User team assigned")
	return nil
}

// DeleteUser removes an account and the personal groups, notes and images
// it owns. Content shared with a team stays with the team.
func (s *AdminService) DeleteUser(rc RequestContext, userID uint) error {
	if userID == rc.UserID {
		return validationError("you cannot delete your own account", nil)
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var user models.User
		err := tx.First(&user, userID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFoundError("user not found", err)
		}
		if err != nil {
			return err
		}
		if user.IsAdmin() {
			return validationError("admin accounts cannot be deleted", nil)
		}

		personal := "user_id = ? AND team_id IS NULL"
		var images []models.Image
		if err := tx.Where(personal, user.ID).Find(&images).Error; err != nil {
			return err
		}
		if err := s.Files.RemoveAll(imageFilenames(images)); err != nil {
			return internalError("failed to remove image files", err)
		}
		for _, m := range []interface{}{&models.Image{}, &models.Note{}, &models.Group{}} {
			if err := tx.Where(personal, user.ID).Delete(m).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&user).Error
	})
	if err != nil {
		return asServiceError(err, "failed to delete user")
	}

	s.Logger.WithFields(logrus.Fields{
		"admin_id": rc.UserID,
		"user_id":  userID,
	}).Info("User deleted")
	return nil
}

func (s *AdminService) ListTeams() ([]TeamView, error) {
	teams := []TeamView{}
	err := s.DB.Table("teams").
		Select("teams.id, teams.name, teams.created_at, COUNT(users.id) AS member_count").
		Joins("LEFT JOIN users ON users.team_id = teams.id").
		Group("teams.id, teams.name, teams.created_at").
		Order("teams.created_at DESC, teams.id DESC").
		Scan(&teams).Error
	if err != nil {
		return nil, internalError("failed to load teams", err)
	}
	return teams, nil
}

func (s *AdminService) CreateTeam(name string) (*models.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("team name is required", nil)
	}
	team := models.Team{Name: name}
	if err := s.DB.Create(&team).Error; err != nil {
		return nil, internalError("failed to create team", err)
	}
	s.Logger.WithFields(logrus.Fields{"team_id": team.ID}).Info("Team created")
	return &team, nil
}

func (s *AdminService) UpdateTeam(id uint, name string) (*models.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("team name is required", nil)
	}

	var team models.Team
	err := s.DB.First(&team, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundError("team not found", err)
	}
	if err != nil {
		return nil, internalError("failed to load team", err)
	}
	if err := s.DB.Model(&team).Update("name", name).Error; err != nil {
		return nil, internalError("failed to update team", err)
	}
	return &team, nil
}

// DeleteTeam removes a team. Members lose their team and the team's groups,
// notes and images fall back to the personal scope of their authors.
func (s *AdminService) DeleteTeam(id uint) error {
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var team models.Team
		err := tx.First(&team, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFoundError("team not found", err)
		}
		if err != nil {
			return err
		}

		for _, m := range append([]interface{}{&models.User{}}, contentModels...) {
			if err := tx.Model(m).Where("team_id = ?", team.ID).Update("team_id", nil).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&team).Error
	})
	if err != nil {
		return asServiceError(err, "failed to delete team")
	}

	s.Logger.WithFields(logrus.Fields{"team_id": id}).Info("Team deleted")
	return nil
}
