package model

import "strings"

// Tier is the ordered entitlement level of a license.
// free < pro < team < enterprise.
type Tier int

const (
	TierFree Tier = iota
	TierPro
	TierTeam
	TierEnterprise
)

func ParseTier(s string) Tier {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pro":
		return TierPro
	case "team":
		return TierTeam
	case "enterprise":
		return TierEnterprise
	default:
		return TierFree
	}
}

func (t Tier) String() string {
	switch t {
	case TierPro:
		return "pro"
	case TierTeam:
		return "team"
	case TierEnterprise:
		return "enterprise"
	default:
		return "free"
	}
}

// MultiSeat reports whether the tier allows more than one bound machine.
// Pro licenses are bound to a single machine; team and enterprise
// licenses allocate seats up to the license's max_seats.
func (t Tier) MultiSeat() bool {
	return t >= TierTeam
}

// DefaultMaxSeats is the seat capacity a new license gets for its tier.
// Individual licenses may override it (enterprise deals do).
func (t Tier) DefaultMaxSeats() int {
	switch t {
	case TierTeam:
		return 5
	case TierEnterprise:
		return 25
	default:
		return 1
	}
}

// Feature lists per tier. Entitlements are cumulative: each tier grants
// everything below it plus its own additions. This table is the single
// source of truth for what a freshly minted token carries; editing it
// changes every new token without a data migration.
var (
	freeFeatures       = []string{"packages", "runtimes", "container", "env-capture", "env-share"}
	proFeatures        = []string{"sbom", "audit", "secrets"}
	teamFeatures       = []string{"team-sync", "team-config", "audit-log"}
	enterpriseFeatures = []string{"policy", "slsa", "sso", "priority-support"}
)

// FeaturesForTier returns the cumulative feature list granted at a tier.
func FeaturesForTier(t Tier) []string {
	features := make([]string, 0, len(freeFeatures)+len(proFeatures)+len(teamFeatures)+len(enterpriseFeatures))
	features = append(features, freeFeatures...)
	if t >= TierPro {
		features = append(features, proFeatures...)
	}
	if t >= TierTeam {
		features = append(features, teamFeatures...)
	}
	if t >= TierEnterprise {
		features = append(features, enterpriseFeatures...)
	}
	return features
}
