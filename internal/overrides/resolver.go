package overrides

import "strings"

// Reason explains an inclusion decision.
type Reason string

// Reason values.
const (
	// ReasonFilter: the matched rule has an include filter and it decided.
	ReasonFilter Reason = "include_filter"

	// ReasonIncludeAll: defaults.include_all_if_no_filter is true.
	ReasonIncludeAll Reason = "include_all"

	// ReasonWhitelist: include_all is off and the global whitelist decided.
	ReasonWhitelist Reason = "global_whitelist"
)

// Decision is the outcome of IncludeDecision.
type Decision struct {
	Include bool
	Reason  Reason
}

// ExcludedByFilter reports whether a rule's include filter rejected the command.
func (d Decision) ExcludedByFilter() bool {
	return !d.Include && d.Reason == ReasonFilter
}

// Candidate is the part of a command inclusion looks at.
type Candidate struct {
	ID          int
	Name        string
	GenericType string
}

// Resolver answers matching and inclusion questions over a loaded document.
// It is immutable once built and safe for concurrent use.
type Resolver struct {
	includeAll bool
	whitelist  map[string]bool
	rules      []*Rule
	source     string
}

// Empty returns a resolver with no rules that includes everything.
func Empty() *Resolver {
	return &Resolver{includeAll: true, whitelist: map[string]bool{}}
}

func newResolver(doc *Document) *Resolver {
	r := &Resolver{
		includeAll: true,
		whitelist:  make(map[string]bool, len(doc.Defaults.GlobalGenericWhitelist)),
		rules:      make([]*Rule, 0, len(doc.Devices)),
	}
	if doc.Defaults.IncludeAllIfNoFilter != nil {
		r.includeAll = *doc.Defaults.IncludeAllIfNoFilter
	}
	for _, g := range doc.Defaults.GlobalGenericWhitelist {
		r.whitelist[normalizeGeneric(g)] = true
	}
	for i := range doc.Devices {
		r.rules = append(r.rules, &doc.Devices[i])
	}
	return r
}

// Source is the file the resolver was loaded from ("" for Empty or Parse).
func (r *Resolver) Source() string {
	return r.source
}

// RuleCount returns the number of device rules.
func (r *Resolver) RuleCount() int {
	return len(r.rules)
}

// IncludeAllIfNoFilter returns the effective default policy.
func (r *Resolver) IncludeAllIfNoFilter() bool {
	return r.includeAll
}

// MatchFor returns the first rule, in document order, matching the device.
// Later rules are never consulted, even if they also match.
func (r *Resolver) MatchFor(id int, name string) *Rule {
	for _, rule := range r.rules {
		if rule.matches(id, name) {
			return rule
		}
	}
	return nil
}

// IncludeDecision decides whether a command may yield an entity.
//
// A rule with an include filter decides exclusively: the command is kept if
// its id, generic type or exact name is listed. Without a filter (or without
// a rule) include_all_if_no_filter decides, and when that is false the
// global generic-type whitelist does.
func (r *Resolver) IncludeDecision(c Candidate, rule *Rule) Decision {
	if rule != nil && !rule.Include.Empty() {
		return Decision{Include: rule.Include.allows(c), Reason: ReasonFilter}
	}
	if r.includeAll {
		return Decision{Include: true, Reason: ReasonIncludeAll}
	}
	return Decision{Include: r.whitelist[normalizeGeneric(c.GenericType)], Reason: ReasonWhitelist}
}

// OverrideFor looks up the entity override for a command of a device,
// independently of inclusion.
func (r *Resolver) OverrideFor(deviceID int, deviceName string, cmdID int) (EntityOverride, bool) {
	return r.MatchFor(deviceID, deviceName).Override(cmdID)
}

func (i *Include) allows(c Candidate) bool {
	for _, id := range i.CmdIDs {
		if id == c.ID {
			return true
		}
	}
	generic := normalizeGeneric(c.GenericType)
	if generic != "" {
		for _, g := range i.GenericTypes {
			if normalizeGeneric(g) == generic {
				return true
			}
		}
	}
	name := strings.TrimSpace(c.Name)
	for _, n := range i.CmdNames {
		if n == name {
			return true
		}
	}
	return false
}

func normalizeGeneric(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
