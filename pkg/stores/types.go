package stores

import (
	"strings"
	"time"
)

// Role is a user's authorization role.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// RiskLevel is the banding of a risk score.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// normalizeRole folds r to the lower-case form roles are stored in.
func normalizeRole(r Role) Role {
	return Role(strings.ToLower(strings.TrimSpace(string(r))))
}

// Default lifecycle states.
const (
	RiskStatusOpen       = "open"
	ProjectStatusPlanned = "planned"
)

// Audit actions. Logins and logouts are recorded by the stores themselves.
const (
	ActionLoginSuccess   = "LOGIN_SUCCESS"
	ActionLoginFailed    = "LOGIN_FAILED"
	ActionLogout         = "LOGOUT"
	ActionUserRegistered = "USER_REGISTERED"
	ActionUserDeleted    = "USER_DELETED"
	ActionUserUpdated    = "USER_UPDATED"
	ActionAPIKeyUpdated  = "API_KEY_UPDATED"
	ActionRiskCreated    = "RISK_CREATED"
	ActionRiskUpdated    = "RISK_UPDATED"
	ActionRisksCleared   = "RISKS_CLEARED"
	ActionRoadmapSaved   = "ROADMAP_SAVED"
)

// User is an account row.
type User struct {
	ID             int64      `json:"id"`
	Username       string     `json:"username"`
	PasswordHash   string     `json:"-"`
	APIKey         *string    `json:"-"`
	Email          *string    `json:"email,omitempty"`
	Role           Role       `json:"role"`
	IsActive       bool       `json:"is_active"`
	FailedAttempts int        `json:"failed_attempts"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastLogin      *time.Time `json:"last_login,omitempty"`
}

// NewUser carries the fields accepted when registering an account.
type NewUser struct {
	Username string  `validate:"required,min=3,max=50,excludesall= "`
	Password string  `validate:"required"`
	Email    *string `validate:"omitempty,email"`
	Role     Role    `validate:"omitempty,max=32,ne=admin"`
}

// UserSummary is the listing projection of a user; it never carries
// credentials.
type UserSummary struct {
	Username  string     `json:"username"`
	Email     *string    `json:"email,omitempty"`
	Role      Role       `json:"role"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

// RiskEntry is one row of the risk register. RiskScore and RiskLevel are
// computed by the caller (see ScoreRisk) and stored as given.
type RiskEntry struct {
	ID          int64     `json:"id"`
	Owner       string    `json:"owner" validate:"required"`
	Domain      string    `json:"domain" validate:"required"`
	AssetName   string    `json:"asset_name"`
	Field1      string    `json:"field1"`
	Field2      string    `json:"field2"`
	Field3      string    `json:"field3"`
	Field4      string    `json:"field4"`
	Threat      string    `json:"threat"`
	Probability int       `json:"probability" validate:"min=1,max=5"`
	Impact      int       `json:"impact" validate:"min=1,max=5"`
	RiskScore   int       `json:"risk_score" validate:"min=0"`
	RiskLevel   RiskLevel `json:"risk_level"`
	Mitigation  string    `json:"mitigation"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoadmapItem is one initiative submitted as part of a roadmap.
type RoadmapItem struct {
	Phase      string  `json:"phase" yaml:"phase"`
	Initiative string  `json:"initiative" yaml:"initiative" validate:"required"`
	Duration   float64 `json:"duration" yaml:"duration" validate:"gte=0"`
	Cost       float64 `json:"cost" yaml:"cost" validate:"gte=0"`
	Role       string  `json:"role" yaml:"role"`
	KPI        string  `json:"kpi" yaml:"kpi"`
	Status     string  `json:"status,omitempty" yaml:"status,omitempty"`
}

// ProjectInitiative is a stored roadmap row.
type ProjectInitiative struct {
	ID         int64     `json:"id"`
	Owner      string    `json:"owner"`
	Domain     string    `json:"domain"`
	Phase      string    `json:"phase"`
	Initiative string    `json:"initiative"`
	Duration   float64   `json:"duration"`
	Cost       float64   `json:"cost"`
	Role       string    `json:"role"`
	KPI        string    `json:"kpi"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ScheduledInitiative is a ProjectInitiative with its projected start and
// finish dates. The dates are derived on every read and never stored.
type ScheduledInitiative struct {
	ProjectInitiative
	Start  time.Time `json:"start"`
	Finish time.Time `json:"finish"`
}

// AuditEvent is an append-only security record. It is not owned by the
// user it names and outlives that user.
type AuditEvent struct {
	ID        int64     `json:"id"`
	Username  *string   `json:"username,omitempty"`
	Action    string    `json:"action"`
	Resource  *string   `json:"resource,omitempty"`
	Details   *string   `json:"details,omitempty"`
	IPAddress *string   `json:"ip_address,omitempty"`
	UserAgent *string   `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is a login session identified by an opaque token.
type Session struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// UserRole is the username/role projection returned with statistics.
type UserRole struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// Stats is a consistent snapshot of store-wide counts.
type Stats struct {
	UserCount    int        `json:"user_count"`
	RiskCount    int        `json:"risk_count"`
	ProjectCount int        `json:"project_count"`
	Users        []UserRole `json:"users"`
}

// AppliedMigration is a row of the schema_version table.
type AppliedMigration struct {
	Version   uint      `json:"version"`
	Name      string    `json:"name"`
	AppliedAt time.Time `json:"applied_at"`
}

// ScoreRisk clamps probability and impact to 1..5 and returns the score and
// its band: 15 and above is CRITICAL, 10 HIGH, 5 MEDIUM, anything lower LOW.
func ScoreRisk(probability, impact int) (int, RiskLevel) {
	probability = clamp(probability, 1, 5)
	impact = clamp(impact, 1, 5)
	score := probability * impact

	switch {
	case score >= 15:
		return score, RiskLevelCritical
	case score >= 10:
		return score, RiskLevelHigh
	case score >= 5:
		return score, RiskLevelMedium
	default:
		return score, RiskLevelLow
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
