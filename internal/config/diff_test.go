package config

import (
	"slices"
	"testing"
)

func TestDiff_NoChanges(t *testing.T) {
	cfg := defaults()
	cfg.Cohorts = map[string]CohortConfig{
		"support": {Entry: "triage", Agents: map[string]AgentDefinition{"triage": {Description: "routes"}}},
	}
	d := Diff(&cfg, &cfg)
	if d.HasChanges() || len(d.NonReloadable) != 0 {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_Reloadable(t *testing.T) {
	old := defaults()
	new := defaults()
	new.Sweeper.Schedule = "@every 1m"
	new.Log.Level = "debug"
	new.Telegram.AllowFrom = []int64{42}

	d := Diff(&old, &new)
	if !d.HasChanges() {
		t.Fatal("expected changes")
	}
	if !d.SweeperChanged || d.NewSchedule != "@every 1m" {
		t.Errorf("expected sweeper change, got %+v", d)
	}
	if !d.LogChanged || d.NewLog.Level != "debug" {
		t.Errorf("expected log change, got %+v", d.NewLog)
	}
	if !d.AllowFromChanged || !slices.Equal(d.NewAllowFrom, []int64{42}) {
		t.Errorf("expected allow list change, got %v", d.NewAllowFrom)
	}
	if len(d.NonReloadable) != 0 {
		t.Errorf("expected nothing needing a restart, got %v", d.NonReloadable)
	}
}

func TestDiff_NonReloadable(t *testing.T) {
	old := defaults()
	new := defaults()
	new.Web.Port = 9090
	new.Telegram.Token = "other"
	new.LLM.Model = "gpt-4o"
	new.Conversation.Cohort = "translation"

	d := Diff(&old, &new)
	if d.HasChanges() {
		t.Error("expected no reloadable changes")
	}
	want := []string{"llm", "conversation", "telegram.token", "web"}
	if !slices.Equal(d.NonReloadable, want) {
		t.Errorf("expected %v, got %v", want, d.NonReloadable)
	}
}

func TestDiff_Cohorts(t *testing.T) {
	agent := AgentDefinition{Description: "routes", Handoffs: []string{"a"}}
	old := defaults()
	old.Cohorts = map[string]CohortConfig{
		"kept":    {Entry: "t", Agents: map[string]AgentDefinition{"t": agent}},
		"changed": {Entry: "t", Agents: map[string]AgentDefinition{"t": agent}},
		"removed": {Entry: "t"},
	}
	new := defaults()
	changed := agent
	changed.Handoffs = []string{"a", "b"}
	new.Cohorts = map[string]CohortConfig{
		"kept":    {Entry: "t", Agents: map[string]AgentDefinition{"t": agent}},
		"changed": {Entry: "t", Agents: map[string]AgentDefinition{"t": changed}},
		"added":   {Entry: "t"},
	}

	d := Diff(&old, &new)
	want := []string{"cohorts.added", "cohorts.changed", "cohorts.removed"}
	if !slices.Equal(d.NonReloadable, want) {
		t.Errorf("expected %v, got %v", want, d.NonReloadable)
	}
}
