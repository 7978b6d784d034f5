package services

import (
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"notekeeper/models"
)

const groupsTable = "note_groups"

const msgGroupAccess = "group not found or access denied"

type GroupService struct {
	DB     *gorm.DB
	Files  *FileStore
	Logger *logrus.Logger
}

func NewGroupService(db *gorm.DB, files *FileStore, logger *logrus.Logger) *GroupService {
	return &GroupService{DB: db, Files: files, Logger: logger}
}

// List returns the groups visible to the caller, newest first
func (s *GroupService) List(rc RequestContext) ([]models.Group, error) {
	groups := []models.Group{}
	err := ScopeFor(rc).Apply(s.DB.Model(&models.Group{}), groupsTable).
		Order("created_at DESC, id DESC").
		Find(&groups).Error
	if err != nil {
		return nil, internalError("failed to load groups", err)
	}
	return groups, nil
}

func (s *GroupService) Create(rc RequestContext, name string) (*models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("group name is required", nil)
	}

	scope := ScopeFor(rc)
	group := models.Group{Name: name, UserID: rc.UserID, TeamID: scope.teamIDCopy()}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := s.ensureUniqueName(tx, scope, name, 0); err != nil {
			return err
		}
		return tx.Create(&group).Error
	})
	if err != nil {
		return nil, asServiceError(err, "failed to create group")
	}

	s.Logger.WithFields(logrus.Fields{
		"user_id":  rc.UserID,
		"group_id": group.ID,
		"team_id":  group.TeamID,
	}).Info("Group created")
	return &group, nil
}

func (s *GroupService) Update(rc RequestContext, id uint, name string) (*models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("group name is required", nil)
	}

	scope := ScopeFor(rc)
	var group models.Group
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		found, err := findGroup(tx, scope, id)
		if err != nil {
			return err
		}
		group = *found
		if err := s.ensureUniqueName(tx, scope, name, group.ID); err != nil {
			return err
		}
		group.Name = name
		return tx.Model(&group).Update("name", name).Error
	})
	if err != nil {
		return nil, asServiceError(err, "failed to update group")
	}
	return &group, nil
}

// Delete removes a group with every note and image filed under it. Image
// files go first, then image rows, note rows and the group row.
func (s *GroupService) Delete(rc RequestContext, id uint) error {
	scope := ScopeFor(rc)
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		group, err := findGroup(tx, scope, id)
		if err != nil {
			return err
		}

		var images []models.Image
		if err := tx.Where("group_id = ?", group.ID).Find(&images).Error; err != nil {
			return err
		}
		if err := s.Files.RemoveAll(imageFilenames(images)); err != nil {
			return internalError("failed to remove image files", err)
		}

		if err := tx.Where("group_id = ?", group.ID).Delete(&models.Image{}).Error; err != nil {
			return err
		}
		if err := tx.Where("group_id = ?", group.ID).Delete(&models.Note{}).Error; err != nil {
			return err
		}
		return tx.Delete(group).Error
	})
	if err != nil {
		return asServiceError(err, "failed to delete group")
	}

	s.Logger.WithFields(logrus.Fields{
		"user_id":  rc.UserID,
		"group_id": id,
	}).Info("Group deleted")
	return nil
}

func (s *GroupService) ensureUniqueName(tx *gorm.DB, scope Scope, name string, exceptID uint) error {
	q := scope.Apply(tx.Model(&models.Group{}), groupsTable).Where("name = ?", name)
	if exceptID != 0 {
		q = q.Where("id <> ?", exceptID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return conflictError("a group with this name already exists", ErrDuplicateName)
	}
	return nil
}

// findGroup loads a group visible in scope. Absent and foreign groups give
// the same error.
func findGroup(tx *gorm.DB, scope Scope, id uint) (*models.Group, error) {
	var group models.Group
	err := scope.Apply(tx.Model(&models.Group{}), groupsTable).Where("id = ?", id).First(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, forbiddenError(msgGroupAccess)
	}
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func imageFilenames(images []models.Image) []string {
	names := make([]string, 0, len(images))
	for _, img := range images {
		names = append(names, img.Filename)
	}
	return names
}

// asServiceError passes service errors through and wraps anything else
func asServiceError(err error, msg string) error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return internalError(msg, err)
}
