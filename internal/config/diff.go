package config

import (
	"reflect"
	"slices"
	"sort"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	SweeperChanged bool
	NewSchedule    string

	LogChanged bool
	NewLog     LogConfig

	AllowFromChanged bool
	NewAllowFrom     []int64

	// Fields that changed but only take effect after a restart
	NonReloadable []string
}

// HasChanges reports whether any reloadable field changed.
func (d *ConfigDiff) HasChanges() bool {
	return d.SweeperChanged || d.LogChanged || d.AllowFromChanged
}

// Diff compares two configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Sweeper.Schedule != new.Sweeper.Schedule {
		d.SweeperChanged = true
		d.NewSchedule = new.Sweeper.Schedule
	}
	if old.Log != new.Log {
		d.LogChanged = true
		d.NewLog = new.Log
	}
	if !slices.Equal(old.Telegram.AllowFrom, new.Telegram.AllowFrom) {
		d.AllowFromChanged = true
		d.NewAllowFrom = slices.Clone(new.Telegram.AllowFrom)
	}

	restart := []struct {
		name    string
		changed bool
	}{
		{"llm", old.LLM != new.LLM},
		{"conversation", old.Conversation != new.Conversation},
		{"workflow", old.Workflow != new.Workflow},
		{"payments", old.Payments != new.Payments},
		{"quotes", old.Quotes != new.Quotes},
		{"telegram.token", old.Telegram.Token != new.Telegram.Token},
		{"nats", old.NATS != new.NATS},
		{"store.path", old.Store.Path != new.Store.Path},
		{"web", old.Web != new.Web},
		{"vault.passphrase", old.Vault.Passphrase != new.Vault.Passphrase},
	}
	for _, r := range restart {
		if r.changed {
			d.NonReloadable = append(d.NonReloadable, r.name)
		}
	}
	for _, name := range cohortChanges(old.Cohorts, new.Cohorts) {
		d.NonReloadable = append(d.NonReloadable, "cohorts."+name)
	}

	return d
}

// cohortChanges lists the cohorts added, removed or redefined, sorted.
func cohortChanges(old, new map[string]CohortConfig) []string {
	var names []string
	for name, def := range new {
		if prev, ok := old[name]; !ok || !reflect.DeepEqual(prev, def) {
			names = append(names, name)
		}
	}
	for name := range old {
		if _, ok := new[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
