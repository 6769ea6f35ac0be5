package rules

// RoutingTable maps an account to the destinations configured for it.
// Lookups are case-sensitive. A table is never modified after Build returns,
// so it can be shared between goroutines and replaced wholesale.
type RoutingTable struct {
	accounts     []string
	destinations map[string][]string
}

// EmptyTable returns a table that routes nothing.
func EmptyTable() *RoutingTable {
	return &RoutingTable{destinations: map[string][]string{}}
}

// Destinations returns the destinations for account in configuration order.
// The returned slice is a copy.
func (t *RoutingTable) Destinations(account string) []string {
	if t == nil {
		return nil
	}
	dests := t.destinations[account]
	if len(dests) == 0 {
		return nil
	}
	out := make([]string, len(dests))
	copy(out, dests)
	return out
}

// Accounts returns every routed account in first-seen order.
func (t *RoutingTable) Accounts() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.accounts))
	copy(out, t.accounts)
	return out
}

// Len returns the number of routed accounts.
func (t *RoutingTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.accounts)
}

// AllDestinations returns every destination in the table, deduplicated, in
// first-seen order.
func (t *RoutingTable) AllDestinations() []string {
	if t == nil {
		return nil
	}
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, account := range t.accounts {
		for _, dest := range t.destinations[account] {
			if !seen[dest] {
				seen[dest] = true
				out = append(out, dest)
			}
		}
	}
	return out
}
