// Package identity resolves signed-in users and their onboarding profiles.
package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrProfileNotFound is returned when a user has no profile document.
var ErrProfileNotFound = errors.New("user profile not found")

// Status is the onboarding state of a user profile.
type Status string

// Profile statuses.
const (
	StatusProfileIncomplete Status = "profile_incomplete"
	StatusPendingApproval   Status = "pending_approval"
	StatusApproved          Status = "approved"
)

// Role selects which onboarding form and dashboard apply to a user.
type Role string

// Supported roles.
const (
	RolePatient   Role = "patient"
	RoleEPO       Role = "epo"
	RoleDoctor    Role = "doctor"
	RoleVolunteer Role = "volunteer"
	RoleNGO       Role = "ngo"
	RoleLab       Role = "lab"
	RoleHospital  Role = "hospital"
)

// Roles lists every supported role.
var Roles = []Role{RolePatient, RoleEPO, RoleDoctor, RoleVolunteer, RoleNGO, RoleLab, RoleHospital}

// ParseRole normalises raw and reports whether it names a known role.
func ParseRole(raw string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Roles {
		if r == known {
			return r, true
		}
	}
	return r, false
}

// Profile is the stored user document.
type Profile struct {
	UserID string `json:"user_id" mapstructure:"user_id"`
	Status Status `json:"status" mapstructure:"status"`
	Role   Role   `json:"role" mapstructure:"role"`
}

// Provider looks up profiles. Implementations return ErrProfileNotFound for
// unknown users.
type Provider interface {
	Profile(ctx context.Context, userID string) (Profile, error)
}

// Directory is an in-memory Provider.
type Directory struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewDirectory seeds a Directory with profiles.
func NewDirectory(profiles ...Profile) *Directory {
	d := &Directory{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		d.profiles[p.UserID] = p
	}
	return d
}

// Put inserts or replaces a profile.
func (d *Directory) Put(p Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[p.UserID] = p
}

// Profile implements Provider.
func (d *Directory) Profile(ctx context.Context, userID string) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[userID]
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	return p, nil
}
