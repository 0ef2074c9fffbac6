package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags manages runtime feature toggles. Every flag can be flipped
// from the environment without a rebuild.
type FeatureFlags struct {
	mu       sync.RWMutex
	features map[string]*Feature
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool
}

// Predefined feature flag names.
const (
	// === Sync Features ===
	FeatureSyncProfileCache   = "sync.profile_cache"   // Write-through Redis snapshot cache
	FeatureSyncOnboardCreate  = "sync.onboard_create"  // First fetch right after creation
	FeatureSyncInactivityMail = "sync.inactivity_mail" // Inactivity reminder emails

	// === API Features ===
	FeatureAPIManualSync = "api.manual_sync" // POST /api/v1/admin/sync
	FeatureAPIReschedule = "api.reschedule"  // PUT /api/v1/admin/schedule
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features: make(map[string]*Feature),
	}

	ff.initializeDefaults()
	ff.loadFromEnvironment()

	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	defaults := []*Feature{
		{
			Name:        FeatureSyncProfileCache,
			Description: "Cache synced profile snapshots in Redis",
			Enabled:     true,
		},
		{
			Name:        FeatureSyncOnboardCreate,
			Description: "Fetch profile data immediately when a student is created",
			Enabled:     true,
		},
		{
			Name:        FeatureSyncInactivityMail,
			Description: "Send reminder emails to inactive students",
			Enabled:     true,
		},
		{
			Name:        FeatureAPIManualSync,
			Description: "Allow triggering a sync run over the API",
			Enabled:     true,
		},
		{
			Name:        FeatureAPIReschedule,
			Description: "Allow changing the sync schedule over the API",
			Enabled:     true,
		},
	}

	for _, f := range defaults {
		ff.features[f.Name] = f
	}
}

// loadFromEnvironment applies environment overrides. The key for a flag is
// FEATURE_ plus the flag name upper-cased with separators as underscores,
// e.g. sync.profile_cache -> FEATURE_SYNC_PROFILE_CACHE.
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		envKey := featureNameToEnvKey(name)
		if val := os.Getenv(envKey); val != "" {
			if enabled, err := strconv.ParseBool(val); err == nil {
				feature.Enabled = enabled
			}
		}
	}
}

func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled reports whether the named feature is on. Unknown names are off.
func (ff *FeatureFlags) IsEnabled(featureName string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	feature, ok := ff.features[featureName]
	return ok && feature.Enabled
}

// EnableFeature turns a feature on at runtime.
func (ff *FeatureFlags) EnableFeature(featureName string) {
	ff.setEnabled(featureName, true)
}

// DisableFeature turns a feature off at runtime.
func (ff *FeatureFlags) DisableFeature(featureName string) {
	ff.setEnabled(featureName, false)
}

func (ff *FeatureFlags) setEnabled(featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if feature, ok := ff.features[featureName]; ok {
		feature.Enabled = enabled
	}
}

// GetAllFeatures returns a copy of all features, for status endpoints.
func (ff *FeatureFlags) GetAllFeatures() map[string]Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	out := make(map[string]Feature, len(ff.features))
	for name, f := range ff.features {
		out[name] = *f
	}
	return out
}
