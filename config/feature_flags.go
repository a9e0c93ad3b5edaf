package config

import (
	"hash/fnv"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FeatureFlags управляет переключателями функций движка.
// Поддерживает постепенную раскатку по хешу пользователя и окна активации.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// userOverrides - принудительные значения для отдельных пользователей.
	userOverrides map[string]map[string]bool

	now func() time.Time
}

// Feature - один флаг.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// RolloutPercent (0-100). Пользователь попадает в раскатку по хешу своего ID.
	RolloutPercent int

	EnabledFrom  *time.Time
	EnabledUntil *time.Time
}

// Имена флагов.
const (
	FeatureMicroTasks    = "engine.micro_tasks"
	FeatureRestoration   = "engine.restoration"
	FeatureNotifications = "notifications.enabled"
	FeatureWeeklyReport  = "reports.weekly"
)

// LoadFeatureFlags читает флаги из окружения поверх значений по умолчанию.
func LoadFeatureFlags() *FeatureFlags {
	ff := NewFeatureFlags()
	ff.loadFromEnvironment()
	return ff
}

// NewFeatureFlags возвращает флаги со значениями по умолчанию: всё включено.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:      make(map[string]*Feature),
		userOverrides: make(map[string]map[string]bool),
		now:           time.Now,
	}
	for _, f := range []Feature{
		{Name: FeatureMicroTasks, Description: "Issue micro-tasks for missed classes"},
		{Name: FeatureRestoration, Description: "Restore broken streaks with completed micro-tasks"},
		{Name: FeatureNotifications, Description: "Send notifications for engine events"},
		{Name: FeatureWeeklyReport, Description: "Send the Sunday weekly summary"},
	} {
		f := f
		f.Enabled = true
		f.RolloutPercent = 100
		ff.features[f.Name] = &f
	}
	return ff
}

// loadFromEnvironment: FEATURE_<NAME>=true|false|<percent>.
// Пример: FEATURE_ENGINE_MICRO_TASKS=false, FEATURE_REPORTS_WEEKLY=25.
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}
		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			feature.RolloutPercent = 0
			if b {
				feature.RolloutPercent = 100
			}
			continue
		}
		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// featureNameToEnvKey: "engine.micro_tasks" -> "FEATURE_ENGINE_MICRO_TASKS".
func featureNameToEnvKey(name string) string {
	return "FEATURE_" + strings.ReplaceAll(strings.ToUpper(name), ".", "_")
}

// IsEnabled сообщает, включён ли флаг глобально. Частичная раскатка без
// пользователя считается включённой.
func (ff *FeatureFlags) IsEnabled(name string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	f, ok := ff.features[name]
	return ok && ff.active(f)
}

// IsEnabledFor учитывает переопределения и процент раскатки для пользователя.
func (ff *FeatureFlags) IsEnabledFor(name, userID string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if overrides, ok := ff.userOverrides[userID]; ok {
		if enabled, ok := overrides[name]; ok {
			return enabled
		}
	}
	f, ok := ff.features[name]
	if !ok || !ff.active(f) {
		return false
	}
	if f.RolloutPercent >= 100 || userID == "" {
		return true
	}
	return inRollout(userID, name, f.RolloutPercent)
}

func (ff *FeatureFlags) active(f *Feature) bool {
	if !f.Enabled || f.RolloutPercent <= 0 {
		return false
	}
	now := ff.now()
	if f.EnabledFrom != nil && now.Before(*f.EnabledFrom) {
		return false
	}
	if f.EnabledUntil != nil && now.After(*f.EnabledUntil) {
		return false
	}
	return true
}

// inRollout - устойчивое распределение: пользователь остаётся в своей корзине.
func inRollout(userID, name string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(name))
	h.Write([]byte(userID))
	return int(h.Sum32()%100) < percent
}

// SetUserOverride принудительно включает или выключает флаг для пользователя.
func (ff *FeatureFlags) SetUserOverride(userID, name string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if _, ok := ff.userOverrides[userID]; !ok {
		ff.userOverrides[userID] = make(map[string]bool)
	}
	ff.userOverrides[userID][name] = enabled
}

// SetRolloutPercent меняет процент раскатки на лету.
func (ff *FeatureFlags) SetRolloutPercent(name string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	f, ok := ff.features[name]
	if !ok {
		return ErrFeatureNotFound
	}
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}
	f.RolloutPercent = percent
	f.Enabled = percent > 0
	return nil
}

// EnableFeature включает флаг на 100%.
func (ff *FeatureFlags) EnableFeature(name string) error {
	return ff.SetRolloutPercent(name, 100)
}

// DisableFeature выключает флаг.
func (ff *FeatureFlags) DisableFeature(name string) error {
	return ff.SetRolloutPercent(name, 0)
}

// Names возвращает имена всех флагов по алфавиту.
func (ff *FeatureFlags) Names() []string {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	names := make([]string, 0, len(ff.features))
	for name := range ff.features {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
