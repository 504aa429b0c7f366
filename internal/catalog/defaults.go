package catalog

import (
	"time"

	"github.com/djamelji/leezr-sub000/internal/model"
)

// Store identifiers the default catalogs dispatch to.
const (
	StoreAuth     = "auth"
	StoreTenant   = "tenant"
	StoreFeatures = "features"
)

// Company returns the default resource set for the company back office.
func Company() []Resource {
	return []Resource{
		{
			Key: "auth:me", Phase: model.PhaseAuth,
			Store: StoreAuth, Action: "me",
			TTL: 5 * time.Minute, Critical: true, Cacheable: true,
		},
		{
			Key: "auth:companies", Phase: model.PhaseAuth,
			Store: StoreAuth, Action: "companies",
			TTL: 5 * time.Minute, Critical: true, Cacheable: true,
		},
		{
			Key: "auth:permissions", Phase: model.PhaseAuth,
			Store: StoreAuth, Action: "permissions",
			TTL: 5 * time.Minute, Critical: true, Cacheable: true,
			DependsOn: []string{"auth:me"},
		},
		{
			Key: "tenant:company", Phase: model.PhaseTenant,
			Store: StoreTenant, Action: "company",
			TTL: 10 * time.Minute, Critical: true, Cacheable: true,
		},
		{
			Key: "tenant:workspace", Phase: model.PhaseTenant,
			Store: StoreTenant, Action: "workspace",
			TTL: 10 * time.Minute, Cacheable: true,
			DependsOn: []string{"tenant:company"},
		},
		{
			Key: "features:modules", Phase: model.PhaseFeatures,
			Store: StoreFeatures, Action: "modules",
			TTL: 15 * time.Minute, Critical: true, Cacheable: true,
		},
		{
			Key: "features:jobdomains", Phase: model.PhaseFeatures,
			Store: StoreFeatures, Action: "jobdomains",
			TTL: 15 * time.Minute, Cacheable: true,
		},
		{
			// Navigation is recomputed per boot and degrades to an empty
			// menu on failure, so it is neither cached nor critical.
			Key: "features:navigation", Phase: model.PhaseFeatures,
			Store: StoreFeatures, Action: "navigation",
			DependsOn: []string{"features:modules"},
		},
	}
}

// Platform returns the default resource set for the platform admin
// surface. Platform boots end after the auth phase.
func Platform() []Resource {
	return []Resource{
		{
			Key: "auth:me", Phase: model.PhaseAuth,
			Store: StoreAuth, Action: "me",
			TTL: 5 * time.Minute, Critical: true, Cacheable: true,
		},
		{
			Key: "auth:permissions", Phase: model.PhaseAuth,
			Store: StoreAuth, Action: "permissions",
			TTL: 5 * time.Minute, Critical: true, Cacheable: true,
			DependsOn: []string{"auth:me"},
		},
	}
}
