package registry

import (
	"fmt"
	"sort"

	"github.com/mtzanidakis/relay/internal/config"
	"github.com/mtzanidakis/relay/internal/decision"
)

const translatorInstructions = `You are a %s translator. Translate the message you receive into %s.
Reply with the translation only, then control returns to the triage agent.`

// Translation returns the triage cohort that routes a message through the
// french, spanish and german translators one at a time.
func Translation() (*Registry, error) {
	b := NewBuilder().
		Add(Agent{
			Name:        "triage_agent",
			Tag:         "triage",
			Description: "Routes translation requests and detects completion",
			Instructions: `You coordinate translations. Decide which language still needs a translation,
hand off to that translator, and track the languages that remain. When every requested
language has been produced, complete with a summary of all translations.`,
			Schema: decision.SchemaTriage,
		})

	for _, lang := range []struct{ tag, name string }{
		{"french", "French"},
		{"spanish", "Spanish"},
		{"german", "German"},
	} {
		b.Add(Agent{
			Name:         lang.tag + "_agent",
			Tag:          lang.tag,
			Description:  lang.name + " translator",
			Instructions: fmt.Sprintf(translatorInstructions, lang.name, lang.name),
		})
		b.Wire("triage_agent", lang.tag+"_agent")
		b.Wire(lang.tag+"_agent", "triage_agent")
	}

	return b.Entry("triage_agent").Build()
}

// Automotive returns the service-desk cohort: a triage agent in front of the
// repair order, parts and payment specialists.
func Automotive() (*Registry, error) {
	b := NewBuilder().
		Add(Agent{
			Name:        "triage_agent",
			Tag:         "triage",
			Description: "Automotive service desk coordinator",
			Instructions: `You coordinate an automotive service desk. Break the customer's request into
repair order, parts and payment work. Validate entities before anything is changed:
repair orders and parts first, then additions, then payment links. Hand off one domain
at a time and list what is still owed in remaining_work.`,
			Schema: decision.SchemaTriage,
		}).
		Add(Agent{
			Name:         "repair_orders_agent",
			Tag:          "repair_orders",
			Description:  "Repair order lookups and validation",
			Instructions: "You answer questions about repair orders: status, customer, totals and attached parts.",
			Tools:        []string{"validate_repair_order", "get_repair_order_details", "update_repair_order_status", "get_repair_order_stats"},
		}).
		Add(Agent{
			Name:         "parts_agent",
			Tag:          "parts",
			Description:  "Parts catalog, availability and additions to repair orders",
			Instructions: "You handle the parts catalog: existence, availability, compatibility and adding parts to repair orders.",
			Tools:        []string{"validate_part_exists", "check_part_availability", "validate_part_order", "add_part_to_order"},
		}).
		Add(Agent{
			Name:         "payment_agent",
			Tag:          "payment",
			Description:  "Payment links for repair orders",
			Instructions: "You create and manage payment links for repair orders. Amounts must be positive and emails valid.",
			Tools:        []string{"create_payment_link", "get_payment_link", "cancel_payment_link"},
		})

	for _, s := range []string{"repair_orders_agent", "parts_agent", "payment_agent"} {
		b.Wire("triage_agent", s)
		b.Wire(s, "triage_agent")
	}

	return b.Entry("triage_agent").Build()
}

// FromConfig builds a cohort declared in the configuration file. Agents are
// added in name order so the result does not depend on map iteration.
func FromConfig(cfg config.CohortConfig) (*Registry, error) {
	names := make([]string, 0, len(cfg.Agents))
	for name := range cfg.Agents {
		names = append(names, name)
	}
	sort.Strings(names)

	b := NewBuilder()
	for _, name := range names {
		def := cfg.Agents[name]
		b.Add(Agent{
			Name:         name,
			Tag:          def.Tag,
			Description:  def.Description,
			Instructions: def.Instructions,
			Tools:        def.Tools,
			Schema:       decision.Schema(def.Schema),
			Model:        def.Model,
		})
	}
	for _, name := range names {
		if hs := cfg.Agents[name].Handoffs; len(hs) > 0 {
			b.Wire(name, hs...)
		}
	}
	return b.Entry(cfg.Entry).Build()
}

// Load resolves a cohort by name: configured cohorts take precedence over the
// built-in ones.
func Load(name string, cohorts map[string]config.CohortConfig) (*Registry, error) {
	if c, ok := cohorts[name]; ok {
		return FromConfig(c)
	}
	switch name {
	case "automotive", "":
		return Automotive()
	case "translation":
		return Translation()
	default:
		return nil, fmt.Errorf("unknown cohort %q", name)
	}
}
