package services

import (
	"gorm.io/gorm"

	"notekeeper/models"
	"notekeeper/utils"
)

// RequestContext identifies the caller of a service operation
type RequestContext struct {
	UserID   uint
	Username string
	Role     string
	TeamID   *uint
}

func (rc RequestContext) IsAdmin() bool {
	return rc.Role == models.RoleAdmin
}

// ContextFor builds a RequestContext from a stored user row
func ContextFor(user *models.User) RequestContext {
	return RequestContext{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		TeamID:   user.TeamID,
	}
}

// Scope is the visibility predicate for groups, notes and images.
// Team members share everything tagged with their team; users without a
// team only see their own untagged rows.
type Scope struct {
	UserID uint
	TeamID *uint
}

func ScopeFor(rc RequestContext) Scope {
	return Scope{UserID: rc.UserID, TeamID: rc.TeamID}
}

// Apply restricts db to rows of table visible in the scope
func (s Scope) Apply(db *gorm.DB, table string) *gorm.DB {
	if s.TeamID != nil {
		return db.Where(table+".team_id = ?", *s.TeamID)
	}
	return db.Where(table+".user_id = ? AND "+table+".team_id IS NULL", s.UserID)
}

// Permits evaluates the same predicate for an already loaded row
func (s Scope) Permits(userID uint, teamID *uint) bool {
	if s.TeamID != nil {
		return teamID != nil && *teamID == *s.TeamID
	}
	return teamID == nil && userID == s.UserID
}

// stored rows must not alias the caller's pointer
func (s Scope) teamIDCopy() *uint {
	if s.TeamID == nil {
		return nil
	}
	return utils.Pointer(*s.TeamID)
}
