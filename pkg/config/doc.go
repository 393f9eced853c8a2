// Package config provides application configuration from environment
// variables and the domain configuration document.
//
// # Overview
//
// Process settings come from ORGKIT_* environment variables with sensible
// defaults. Domain settings (roles, invitations, the permission cache, the
// billing catalog and the scheduled scans) come from a YAML document whose
// path is ORGKIT_CONFIG_FILE; without one the shipped defaults apply.
//
// # Environment
//
// Server settings:
//
//	ORGKIT_HOST="0.0.0.0"
//	ORGKIT_PORT="8080"
//	ORGKIT_HEALTH_PORT="9090"
//	ORGKIT_CORS_ORIGINS="https://app.example.com"
//	ORGKIT_APP_URL="https://app.example.com"
//
// Storage settings:
//
//	ORGKIT_POSTGRES_URL="postgres://localhost/orgkit"
//	ORGKIT_POSTGRES_MAX_CONNS="20"
//	ORGKIT_REDIS_URL="redis://localhost:6379"  # empty: in-process cache
//
// Billing settings:
//
//	ORGKIT_STRIPE_SECRET_KEY="sk_live_..."
//	ORGKIT_STRIPE_WEBHOOK_SECRET="whsec_..."
//
// Observability settings:
//
//	ORGKIT_LOG_LEVEL="info"  # debug, info, warn, error
//	ORGKIT_METRICS_ENABLED="true"
//	ORGKIT_OTEL_ENABLED="true"
//	ORGKIT_OTEL_ENDPOINT="otel-collector:4317"
//
// # Domain document
//
//	organization:
//	  personal_organization: true
//	default_role: member
//	invitations:
//	  expiry_days: 7        # null: never expire
//	  resend_cooldown: 1m
//	cache:
//	  enabled: true
//	  ttl: 1h
//	  prefix: saas
//	notifications:
//	  expiry_days_before: [7, 3, 1]
//	  usage_thresholds: [80, 90]
//	billing:
//	  currency: usd
//	  trial_days: 14
//	  plans:
//	    - key: pro
//	      name: Pro
//	      prices: {monthly: 2900, yearly: 29000}
//	      limits: {items: 1000, ai_tokens: 50000}
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	saas, err := config.LoadSaaSConfig(cfg.SaaSConfigFile)
//	if err != nil {
//		log.Fatal(err)
//	}
//	registry, err := saas.Registry()
package config
