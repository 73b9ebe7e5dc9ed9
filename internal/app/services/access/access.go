// Package access implements the platform's authorization rules: company
// role checks, single-facility member restriction, and the tiered rate
// limits applied to the HTTP API.
package access

import (
	"fmt"
	"sync"
	"time"

	"github.com/carbonledger/platform/internal/app/domain/carbon"
	"golang.org/x/time/rate"
)

// roleRank orders roles from least to most privileged so "at least X" checks
// are a single comparison.
var roleRank = map[carbon.MemberRole]int{
	carbon.RoleViewer:    0,
	carbon.RoleDataEntry: 1,
	carbon.RoleAdmin:     2,
	carbon.RoleOwner:     3,
}

// HasAtLeast reports whether member's role ranks at or above minimum.
func HasAtLeast(member carbon.Member, minimum carbon.MemberRole) bool {
	return roleRank[member.Role] >= roleRank[minimum]
}

// CanAccessFacility reports whether member may act on facilityID: an empty
// Member.FacilityID means the member is scoped to the whole company, any
// facility included.
func CanAccessFacility(member carbon.Member, facilityID string) bool {
	return member.FacilityID == "" || member.FacilityID == facilityID
}

// ForbiddenError is returned when a role/facility check fails, distinct from
// a not-found so handlers can map it to 403.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string { return fmt.Sprintf("forbidden: %s", e.Reason) }

// RequireRole returns a ForbiddenError unless member's role is at least minimum.
func RequireRole(member carbon.Member, minimum carbon.MemberRole) error {
	if !HasAtLeast(member, minimum) {
		return &ForbiddenError{Reason: fmt.Sprintf("requires role %s or higher", minimum)}
	}
	return nil
}

// RequireFacility returns a ForbiddenError unless member may act on facilityID.
func RequireFacility(member carbon.Member, facilityID string) error {
	if !CanAccessFacility(member, facilityID) {
		return &ForbiddenError{Reason: "member is restricted to a different facility"}
	}
	return nil
}

// Limiter tiers, keyed by the bucket a caller falls into (typically user ID
// or remote IP for unauthenticated endpoints).
const (
	TierGlobal       = "global"        // 200/min
	TierCalculation  = "calculation"    // 30/min, hot activity-data/ROI endpoints
	TierCSVUpload    = "csv_upload"     // 10/hr
	TierWizardSubmit = "wizard_submit"  // 10/min
)

var tierRates = map[string]rate.Limit{
	TierGlobal:       rate.Every(time.Minute / 200),
	TierCalculation:  rate.Every(time.Minute / 30),
	TierCSVUpload:    rate.Every(time.Hour / 10),
	TierWizardSubmit: rate.Every(time.Minute / 10),
}

var tierBurst = map[string]int{
	TierGlobal:       200,
	TierCalculation:  30,
	TierCSVUpload:    10,
	TierWizardSubmit: 10,
}

// RateLimiters holds one token bucket per (tier, key) pair, evicting idle
// buckets lazily is unnecessary at this scale since keys are bounded by
// active users.
type RateLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiters builds an empty limiter set.
func NewRateLimiters() *RateLimiters {
	return &RateLimiters{limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether a request in the given tier for the given key
// (user ID or IP) may proceed, creating that bucket on first use.
func (r *RateLimiters) Allow(tier, key string) bool {
	limit, ok := tierRates[tier]
	if !ok {
		return true
	}
	bucketKey := tier + "|" + key

	r.mu.Lock()
	limiter, ok := r.limiters[bucketKey]
	if !ok {
		limiter = rate.NewLimiter(limit, tierBurst[tier])
		r.limiters[bucketKey] = limiter
	}
	r.mu.Unlock()

	return limiter.Allow()
}
