package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/orgkit/pkg/authz"
	"github.com/platinummonkey/orgkit/pkg/billing"
	"github.com/platinummonkey/orgkit/pkg/cache"
	"github.com/platinummonkey/orgkit/pkg/jobs"
	"github.com/platinummonkey/orgkit/pkg/orgs"
	"github.com/platinummonkey/orgkit/pkg/rbac"
)

// SaaSConfig is the domain configuration: roles and permissions,
// invitations, the permission cache, the billing catalog and the
// scheduled notification scans.
type SaaSConfig struct {
	Organization  OrganizationConfig          `yaml:"organization"`
	Roles         []rbac.RoleDefinition       `yaml:"roles"`
	Permissions   []rbac.PermissionDefinition `yaml:"permissions"`
	DefaultRole   rbac.Role                   `yaml:"default_role"`
	Invitations   InvitationsConfig           `yaml:"invitations"`
	Cache         CacheConfig                 `yaml:"cache"`
	Billing       billing.CatalogConfig       `yaml:"billing"`
	Notifications ScanConfig                  `yaml:"notifications"`
}

// OrganizationConfig controls organization creation.
type OrganizationConfig struct {
	Label                string `yaml:"label"`
	PersonalOrganization bool   `yaml:"personal_organization"`
}

// InvitationsConfig controls invitation lifetime and resend pacing. A nil
// ExpiryDays means invitations never expire.
type InvitationsConfig struct {
	ExpiryDays     *int          `yaml:"expiry_days"`
	ResendCooldown time.Duration `yaml:"resend_cooldown"`
}

// CacheConfig controls the per-user organization and permission cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
	Prefix  string        `yaml:"prefix"`
	// Size bounds the in-process cache used when no Redis is configured.
	Size int `yaml:"size"`
}

// ScanConfig tunes the scheduled expiry and usage scans.
type ScanConfig struct {
	ExpiryDaysBefore []int         `yaml:"expiry_days_before"`
	UsageThresholds  []int         `yaml:"usage_thresholds"`
	Workers          int           `yaml:"workers"`
	Timeout          time.Duration `yaml:"timeout"`
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

// DefaultSaaSConfig returns the shipped configuration.
func DefaultSaaSConfig() *SaaSConfig {
	return &SaaSConfig{
		Organization: OrganizationConfig{
			Label:                "Organization",
			PersonalOrganization: true,
		},
		Roles:       rbac.DefaultRoles(),
		Permissions: rbac.DefaultPermissions(),
		DefaultRole: rbac.RoleMember,
		Invitations: InvitationsConfig{
			ExpiryDays:     intPtr(7),
			ResendCooldown: orgs.DefaultResendCooldown,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     time.Hour,
			Prefix:  "saas",
			Size:    10000,
		},
		Billing: billing.CatalogConfig{
			Currency:  "usd",
			TrialDays: 14,
			Plans: []billing.PlanConfig{
				{
					Key:         billing.PlanFree,
					Name:        "Free",
					Description: "Get started for free",
					Features:    []string{"10 items", "1,000 AI tokens/mo", "Community support"},
					Limits: map[billing.Feature]*int64{
						billing.FeatureItems:    int64Ptr(10),
						billing.FeatureAITokens: int64Ptr(1000),
					},
				},
				{
					Key:         billing.PlanPro,
					Name:        "Pro",
					Description: "For growing teams",
					Prices: map[billing.Interval]int64{
						billing.IntervalMonthly: 2900,
						billing.IntervalYearly:  29000,
					},
					Features: []string{"1,000 items", "50,000 AI tokens/mo", "Priority support"},
					Limits: map[billing.Feature]*int64{
						billing.FeatureItems:    int64Ptr(1000),
						billing.FeatureAITokens: int64Ptr(50000),
					},
					Metered: map[string]billing.MeteredPriceConfig{
						"ai_tokens_extra": {Meter: "ai_tokens", UnitAmount: 1},
					},
				},
				{
					Key:         billing.PlanEnterprise,
					Name:        "Enterprise",
					Description: "For large organizations",
					Prices: map[billing.Interval]int64{
						billing.IntervalMonthly: 9900,
						billing.IntervalYearly:  99000,
					},
					Features: []string{"Unlimited items", "Unlimited AI tokens", "Dedicated support"},
					Limits: map[billing.Feature]*int64{
						billing.FeatureItems:    nil,
						billing.FeatureAITokens: nil,
					},
				},
			},
			Meters: []billing.MeterConfig{
				{Key: "ai_tokens", DisplayName: "AI Token Usage", EventName: "ai_tokens_used"},
			},
		},
		Notifications: ScanConfig{
			ExpiryDaysBefore: jobs.DefaultExpiryDaysBefore,
			UsageThresholds:  jobs.DefaultUsageThresholds,
		},
	}
}

// LoadSaaSConfig reads the YAML document at path over the defaults. Keys
// absent from the document keep their default; lists present in it
// replace the default list. An empty path returns the defaults.
func LoadSaaSConfig(path string) (*SaaSConfig, error) {
	cfg := DefaultSaaSConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every section and reports all failures.
func (c *SaaSConfig) Validate() error {
	var errs []error

	if _, err := c.Registry(); err != nil {
		errs = append(errs, fmt.Errorf("roles: %w", err))
	}
	if c.Invitations.ExpiryDays != nil && *c.Invitations.ExpiryDays < 0 {
		errs = append(errs, errors.New("invitations: expiry_days must not be negative"))
	}
	if c.Invitations.ResendCooldown < 0 {
		errs = append(errs, errors.New("invitations: resend_cooldown must not be negative"))
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache: ttl must be positive when the cache is enabled"))
	}
	if err := c.Billing.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("billing: %w", err))
	}
	for _, days := range c.Notifications.ExpiryDaysBefore {
		if days <= 0 {
			errs = append(errs, fmt.Errorf("notifications: expiry day offset %d must be positive", days))
		}
	}
	for _, threshold := range c.Notifications.UsageThresholds {
		if threshold <= 0 || threshold > 100 {
			errs = append(errs, fmt.Errorf("notifications: usage threshold %d must be within 1..100", threshold))
		}
	}
	return errors.Join(errs...)
}

// Registry builds the role registry.
func (c *SaaSConfig) Registry() (*rbac.Registry, error) {
	return rbac.NewRegistry(c.Roles, c.Permissions, c.DefaultRole)
}

// OrgsConfig returns the organization service settings. acceptURL is the
// base invitation links are built from.
func (c *SaaSConfig) OrgsConfig(acceptURL string) orgs.Config {
	return orgs.Config{
		PersonalOrganization: c.Organization.PersonalOrganization,
		InvitationExpiryDays: c.Invitations.ExpiryDays,
		ResendCooldown:       c.Invitations.ResendCooldown,
		AcceptURL:            acceptURL,
	}
}

// CacheKeys returns the key builder for the configured prefix.
func (c *SaaSConfig) CacheKeys() cache.Keys {
	return cache.Keys{Prefix: c.Cache.Prefix}
}

// AuthzConfig returns the permission resolver settings.
func (c *SaaSConfig) AuthzConfig() authz.Config {
	return authz.Config{
		Enabled: c.Cache.Enabled,
		TTL:     c.Cache.TTL,
		Keys:    c.CacheKeys(),
	}
}

// JobsConfig returns the scheduled scan settings.
func (c *SaaSConfig) JobsConfig() jobs.Config {
	return jobs.Config{
		ExpiryDaysBefore: c.Notifications.ExpiryDaysBefore,
		UsageThresholds:  c.Notifications.UsageThresholds,
		Workers:          c.Notifications.Workers,
		Timeout:          c.Notifications.Timeout,
	}
}
