// Package billing resolves which plan an organization is on and enforces
// plan limits, with Stripe as the payment provider.
//
// # Overview
//
// The plan catalog lives in PostgreSQL and is served through CachedCatalog.
// Subscriptions are a local mirror kept up to date by provider webhooks;
// SubscriptionResolver maps the current subscription's price to a plan:
//
//   - no subscription, or one that is no longer valid: the free plan
//   - a valid subscription whose price matches a plan: that plan
//   - a valid subscription whose price matches nothing: the free plan,
//     with a warning and the orgkit_plan_resolution_drift_total counter
//
// A provider price id belongs to at most one plan. The sync refuses a
// catalog that breaks this and the catalog logs an error when it loads one.
//
// # Plan limits
//
// A nil limit is unlimited. A feature the plan does not mention has a limit
// of zero.
//
//	if err := resolver.CheckLimit(ctx, org.ID, billing.FeatureItems, count); err != nil {
//		if billing.IsLimitExceeded(err) {
//			// 402 Payment Required
//		}
//	}
//
// # Provider
//
// Provider covers request time calls (customers, checkout, portal, meter
// events, webhook verification) and CatalogProvider the products, prices
// and meters managed by Syncer. StripeProvider implements both.
//
// # Related Packages
//
//   - pkg/orgs: organizations own subscriptions and customer ids
//   - pkg/jobs: expiring plan and usage threshold notifications
package billing
