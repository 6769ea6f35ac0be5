// Package rules turns channel configuration into upstream filter rules and
// the routing table used to resolve webhook destinations for an author.
package rules

import (
	stderrors "errors"
	"fmt"
	"strings"

	"stream-bridge/internal/common/errors"
)

const (
	// DefaultMaxRuleLength is the upstream limit on a single rule value
	DefaultMaxRuleLength = 512
	// DefaultMaxRules is the upstream limit on active rules
	DefaultMaxRules = 25
	// DefaultTagPrefix prefixes every generated rule tag
	DefaultTagPrefix = "stream-bridge"

	clausePrefix = "from:"
	separator    = " OR "
)

var (
	// ErrTooManyRules is returned under OverflowFail when the accounts need
	// more rules than allowed.
	ErrTooManyRules = stderrors.New("rule set exceeds the maximum rule count")
	// ErrUnrepresentableRule is returned when a single account clause is
	// longer than the maximum rule length.
	ErrUnrepresentableRule = stderrors.New("account cannot be expressed within the maximum rule length")
)

// OverflowPolicy decides what happens when the rule count cap is exceeded.
type OverflowPolicy string

const (
	OverflowTruncate OverflowPolicy = "truncate"
	OverflowFail     OverflowPolicy = "fail"
)

// Channel is one configured destination and the accounts it follows.
type Channel struct {
	Destination string
	Accounts    []string
	Disabled    bool
}

// FilterRule is a rule as accepted by the upstream rules endpoint.
type FilterRule struct {
	Value string `json:"value"`
	Tag   string `json:"tag,omitempty"`
}

// BuildOptions holds the limits applied by Build. Zero values take the
// upstream defaults.
type BuildOptions struct {
	MaxRuleLength int
	MaxRules      int
	Overflow      OverflowPolicy
	TagPrefix     string
}

func (o BuildOptions) withDefaults() BuildOptions {
	if o.MaxRuleLength <= 0 {
		o.MaxRuleLength = DefaultMaxRuleLength
	}
	if o.MaxRules <= 0 {
		o.MaxRules = DefaultMaxRules
	}
	if o.Overflow == "" {
		o.Overflow = OverflowTruncate
	}
	if strings.TrimSpace(o.TagPrefix) == "" {
		o.TagPrefix = DefaultTagPrefix
	}
	return o
}

// RuleSet is the output of Build.
type RuleSet struct {
	Table *RoutingTable
	Rules []FilterRule
	// Truncated is the number of rules dropped under OverflowTruncate.
	Truncated int
	// DroppedAccounts lists the accounts whose rules were dropped. They are
	// not present in Table.
	DroppedAccounts []string
}

// Build packs the accounts of every enabled channel into filter rules and
// builds the matching routing table. Channels are processed in order, so the
// same input always yields the same rules and table.
func Build(channels []Channel, opts BuildOptions) (*RuleSet, error) {
	opts = opts.withDefaults()

	accounts := make([]string, 0)
	destinations := make(map[string][]string)

	for _, ch := range channels {
		dest := strings.TrimSpace(ch.Destination)
		if ch.Disabled || dest == "" {
			continue
		}
		for _, raw := range ch.Accounts {
			account := strings.TrimSpace(raw)
			if account == "" {
				continue
			}
			existing, seen := destinations[account]
			if !seen {
				accounts = append(accounts, account)
				destinations[account] = []string{dest}
				continue
			}
			if !contains(existing, dest) {
				destinations[account] = append(existing, dest)
			}
		}
	}

	groups, err := pack(accounts, opts.MaxRuleLength)
	if err != nil {
		return nil, err
	}

	set := &RuleSet{}
	if len(groups) > opts.MaxRules {
		if opts.Overflow == OverflowFail {
			return nil, errors.RuleSetError(
				fmt.Sprintf("%d rules needed, at most %d allowed", len(groups), opts.MaxRules),
				ErrTooManyRules,
			)
		}
		for _, dropped := range groups[opts.MaxRules:] {
			set.DroppedAccounts = append(set.DroppedAccounts, dropped...)
		}
		set.Truncated = len(groups) - opts.MaxRules
		groups = groups[:opts.MaxRules]
	}

	for _, account := range set.DroppedAccounts {
		delete(destinations, account)
	}
	accounts = accounts[:len(accounts)-len(set.DroppedAccounts)]

	set.Rules = make([]FilterRule, 0, len(groups))
	for i, group := range groups {
		set.Rules = append(set.Rules, FilterRule{
			Value: serialize(group),
			Tag:   fmt.Sprintf("%s %d", opts.TagPrefix, i+1),
		})
	}
	set.Table = &RoutingTable{accounts: accounts, destinations: destinations}

	return set, nil
}

// pack greedily groups accounts so that each serialized group fits maxLen.
func pack(accounts []string, maxLen int) ([][]string, error) {
	var groups [][]string
	var current []string
	length := 0

	for _, account := range accounts {
		clause := len(clausePrefix) + len(account)
		if clause > maxLen {
			return nil, errors.RuleSetError(
				fmt.Sprintf("account %q needs %d characters, limit is %d", account, clause, maxLen),
				ErrUnrepresentableRule,
			).WithContext("account", account)
		}

		if len(current) > 0 && length+len(separator)+clause > maxLen {
			groups = append(groups, current)
			current, length = nil, 0
		}
		if len(current) > 0 {
			length += len(separator)
		}
		current = append(current, account)
		length += clause
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups, nil
}

func serialize(accounts []string) string {
	clauses := make([]string, len(accounts))
	for i, account := range accounts {
		clauses[i] = clausePrefix + account
	}
	return strings.Join(clauses, separator)
}

func contains(values []string, v string) bool {
	for _, existing := range values {
		if existing == v {
			return true
		}
	}
	return false
}
