package upstream

import (
	"context"
	"fmt"
	"time"

	"stream-bridge/internal/common/errors"
	"stream-bridge/internal/common/logging"
	"stream-bridge/internal/rules"
)

const defaultTimeout = 20 * time.Second

// SyncResult describes one replace sequence.
type SyncResult struct {
	Before  *RuleList
	After   *RuleList
	Deleted int
	// Added is the number of requested rules confirmed present upstream.
	Added int
}

// Sync replaces every upstream rule with filterRules: fetch, delete all,
// add, fetch again. The final fetch must hold exactly the requested
// value/tag pairs. It stops at the first failure and returns it; the
// upstream state is then unknown and the caller must not open a stream.
func (c *Client) Sync(ctx context.Context, filterRules []rules.FilterRule) (*SyncResult, error) {
	before, err := c.FetchCurrentRules(ctx)
	if err != nil {
		return nil, err
	}
	c.logger.Info("Current upstream rules", ruleFields(before)...)

	ids := before.IDs()
	if err := c.DeleteRules(ctx, ids); err != nil {
		return nil, err
	}

	added, err := c.AddRules(ctx, filterRules)
	if err != nil {
		return nil, err
	}

	after, err := c.FetchCurrentRules(ctx)
	if err != nil {
		return nil, err
	}
	if err := confirm(filterRules, after, added.Errors); err != nil {
		c.logger.Error("Upstream rules do not match the requested set", err, ruleFields(after)...)
		return nil, err
	}
	c.logger.Info("Upstream rules replaced", append(ruleFields(after),
		logging.Int("deleted", len(ids)),
		logging.Int("added", len(filterRules)),
	)...)

	return &SyncResult{
		Before:  before,
		After:   after,
		Deleted: len(ids),
		Added:   len(filterRules),
	}, nil
}

// confirm compares value/tag pairs of the requested rules with what the
// upstream holds. Both missing and unexpected rules are an error.
func confirm(want []rules.FilterRule, got *RuleList, addErrors []APIError) error {
	pending := make(map[rules.FilterRule]int, len(want))
	for _, r := range want {
		pending[r]++
	}

	var unexpected []string
	for _, r := range got.Data {
		key := rules.FilterRule{Value: r.Value, Tag: r.Tag}
		if pending[key] > 0 {
			pending[key]--
			continue
		}
		unexpected = append(unexpected, r.Value)
	}

	var missing []string
	for _, r := range want {
		if pending[r] > 0 {
			pending[r]--
			missing = append(missing, r.Value)
		}
	}

	if len(missing) == 0 && len(unexpected) == 0 {
		return nil
	}

	err := &errors.AppError{
		Type: errors.ErrTypeUpstreamRule,
		Message: fmt.Sprintf("confirm rules: %d requested rules missing, %d unexpected rules present",
			len(missing), len(unexpected)),
	}
	err.WithContext("missing", missing).WithContext("unexpected", unexpected)
	if len(addErrors) > 0 {
		titles := make([]string, 0, len(addErrors))
		for _, e := range addErrors {
			titles = append(titles, e.Title)
		}
		err.WithContext("add_errors", titles)
	}
	return err
}

func ruleFields(list *RuleList) []logging.Field {
	tags := make([]string, 0, len(list.Data))
	for _, r := range list.Data {
		tags = append(tags, r.Tag)
	}
	return []logging.Field{
		logging.Int("rule_count", len(list.Data)),
		logging.Strings("tags", tags),
	}
}
