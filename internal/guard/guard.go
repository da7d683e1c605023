// Package guard decides where a visitor should be redirected based on their
// sign-in state and onboarding profile.
package guard

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/onboard-forms/internal/identity"
)

// DefaultCooldown is how long a finished check's decision is reused for the
// same user and page.
const DefaultCooldown = time.Second

// Reason explains a Decision.
type Reason string

// Decision reasons.
const (
	ReasonExcluded     Reason = "excluded"
	ReasonSignedOut    Reason = "signed_out"
	ReasonNoProfile    Reason = "profile_missing"
	ReasonIncomplete   Reason = "profile_incomplete"
	ReasonPending      Reason = "pending_approval"
	ReasonApproved     Reason = "approved"
	ReasonLookupFailed Reason = "lookup_failed"
	ReasonAllowed      Reason = "allowed"
)

// Decision is the outcome of a check. An empty Redirect means stay.
type Decision struct {
	Redirect string `json:"redirect,omitempty"`
	Reason   Reason `json:"reason"`
}

// Config lists the pages the guard knows about.
type Config struct {
	LoginPath     string                   `mapstructure:"login_path"`
	PendingPath   string                   `mapstructure:"pending_path"`
	HomePath      string                   `mapstructure:"home_path"`
	PendingNames  []string                 `mapstructure:"pending_names"`
	ExcludedPaths []string                 `mapstructure:"excluded_paths"`
	OnboardingTag string                   `mapstructure:"onboarding_tag"`
	Forms         map[identity.Role]string `mapstructure:"forms"`
	Dashboards    map[identity.Role]string `mapstructure:"dashboards"`
	Cooldown      time.Duration            `mapstructure:"cooldown"`
}

// DefaultConfig returns the site layout used by the onboarding pages.
func DefaultConfig() Config {
	return Config{
		LoginPath:    "/00 GLOBAL/00-8 Login.html",
		PendingPath:  "/00 GLOBAL/00-9 Pending Approval.html",
		HomePath:     "/00 GLOBAL/00 Homepage.html",
		PendingNames: []string{"Pending Approval.html", "pending-approval.html"},
		ExcludedPaths: []string{
			"/00-8 Login.html",
			"/00-7 Register.html",
			"/00-9 Forgot Password.html",
			"Login.html",
			"Register.html",
			"Forgot Password.html",
		},
		OnboardingTag: "Onboarding",
		Forms: map[identity.Role]string{
			identity.RolePatient:   "/01 PATIENT/01D New Patient Onboarding Form.html",
			identity.RoleEPO:       "/02 EPO/02D New EPO Onboarding Form.html",
			identity.RoleDoctor:    "/03 HCP/03D New Healthcare Professional Onboarding.html",
			identity.RoleVolunteer: "/04 VOLUNTEER/04D New Volunteer Onboarding Form.html",
			identity.RoleNGO:       "/05 NGO/05D New NGO Onboarding Form.html",
			identity.RoleLab:       "/06 LAB/06D New Lab Onboarding Form.html",
			identity.RoleHospital:  "/07 HOSPITAL/07D New Hospital Onbaording Form.html",
		},
		Dashboards: map[identity.Role]string{
			identity.RolePatient:   "/01 PATIENT/01G Patient Dashboard.html",
			identity.RoleDoctor:    "/03 HCP/03E Healthcare Professional Dashboard.html",
			identity.RoleVolunteer: "/04 VOLUNTEER/04E Volunteer Dashboard.html",
			identity.RoleEPO:       "/02 EPO/02E EPO Dashboard Code.html",
			identity.RoleNGO:       "/05 NGO/05E NGO Dashboard Code.html",
			identity.RoleLab:       "/06 LAB/06E Lab Dashboard.html",
			identity.RoleHospital:  "/07 HOSPITAL/07E Hospital Dashboard.html",
		},
		Cooldown: DefaultCooldown,
	}
}

// Guard evaluates page visits. Concurrent checks for the same user and page
// share one profile lookup, and its decision is reused for Cooldown after it
// finishes. Signed-out visitors never need a lookup and are always sent to
// the login page.
type Guard struct {
	cfg      Config
	provider identity.Provider
	clock    clock.Clock
	logger   *zap.Logger

	flight singleflight.Group

	mu     sync.Mutex
	recent map[string]recentDecision
}

type recentDecision struct {
	decision Decision
	until    time.Time
}

// Option customises a Guard.
type Option func(*Guard)

// WithClock sets the time source for the cooldown.
func WithClock(c clock.Clock) Option {
	return func(g *Guard) {
		if c != nil {
			g.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// New builds a Guard over provider.
func New(cfg Config, provider identity.Provider, opts ...Option) *Guard {
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	g := &Guard{
		cfg:      cfg,
		provider: provider,
		clock:    clock.New(),
		logger:   zap.NewNop(),
		recent:   make(map[string]recentDecision),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.Named("guard")
	return g
}

// Excluded reports whether path is a sign-in page the guard never acts on.
func (g *Guard) Excluded(path string) bool {
	for _, p := range g.cfg.ExcludedPaths {
		if p != "" && strings.Contains(path, p) {
			return true
		}
	}
	return false
}

// Check decides whether the user visiting path must be redirected. An empty
// userID means nobody is signed in.
func (g *Guard) Check(ctx context.Context, userID, path string) Decision {
	if g.Excluded(path) {
		return Decision{Reason: ReasonExcluded}
	}
	if userID == "" {
		return Decision{Redirect: g.cfg.LoginPath, Reason: ReasonSignedOut}
	}
	key := userID + "\x00" + path
	if d, ok := g.cached(key); ok {
		g.logger.Debug("reusing recent decision", zap.String("user_id", userID), zap.String("reason", string(d.Reason)))
		return d
	}
	v, _, _ := g.flight.Do(key, func() (any, error) {
		d := g.evaluate(ctx, userID, path)
		if d.Reason != ReasonLookupFailed {
			g.remember(key, d)
		}
		return d, nil
	})
	return v.(Decision)
}

func (g *Guard) evaluate(ctx context.Context, userID, path string) Decision {
	profile, err := g.provider.Profile(ctx, userID)
	if errors.Is(err, identity.ErrProfileNotFound) {
		g.logger.Error("user profile not found", zap.String("user_id", userID))
		return Decision{Redirect: g.cfg.LoginPath, Reason: ReasonNoProfile}
	}
	if err != nil {
		g.logger.Error("error fetching user profile", zap.String("user_id", userID), zap.Error(err))
		return Decision{Reason: ReasonLookupFailed}
	}
	return g.route(profile, path)
}

func (g *Guard) route(p identity.Profile, path string) Decision {
	switch p.Status {
	case identity.StatusProfileIncomplete:
		expected := g.cfg.Forms[p.Role]
		if expected != "" && !strings.HasSuffix(normalize(path), normalize(expected)) {
			return Decision{Redirect: expected, Reason: ReasonIncomplete}
		}
	case identity.StatusPendingApproval:
		if !containsAny(path, g.cfg.PendingNames) {
			return Decision{Redirect: g.cfg.PendingPath, Reason: ReasonPending}
		}
	case identity.StatusApproved:
		allowed := []string{g.cfg.HomePath, g.cfg.Dashboards[p.Role]}
		if !containsAny(path, allowed) && strings.Contains(path, g.cfg.OnboardingTag) {
			return Decision{Redirect: g.cfg.HomePath, Reason: ReasonApproved}
		}
	}
	return Decision{Reason: ReasonAllowed}
}

func (g *Guard) cached(key string) (Decision, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.recent[key]
	if !ok || !g.clock.Now().Before(r.until) {
		return Decision{}, false
	}
	return r.decision, true
}

func (g *Guard) remember(key string, d Decision) {
	if g.cfg.Cooldown == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recent[key] = recentDecision{decision: d, until: g.clock.Now().Add(g.cfg.Cooldown)}
}

// Sweep forgets decisions whose cooldown has expired and returns how many.
func (g *Guard) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	var n int
	for k, r := range g.recent {
		if !now.Before(r.until) {
			delete(g.recent, k)
			n++
		}
	}
	return n
}

// Len returns the number of remembered decisions.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.recent)
}

func normalize(p string) string {
	if decoded, err := url.PathUnescape(p); err == nil {
		p = decoded
	}
	return strings.ToLower(strings.ReplaceAll(p, `\`, "/"))
}

func containsAny(path string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(path, n) {
			return true
		}
	}
	return false
}
