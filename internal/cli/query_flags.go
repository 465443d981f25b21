package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rpattn/querykit/internal/query"
	"github.com/rpattn/querykit/internal/review"
)

// Presets name the review entry points selectable with --preset.
var Presets = []string{"all", "published", "high-rating", "media", "sns-pending", "needing-attention", "trending", "badge-creatable"}

// QueryOptions holds the flags that shape a review query.
type QueryOptions struct {
	Shop     int64
	Preset   string
	Filters  []string
	Excludes []string
	Order    []string
	Select   []string
	Prefetch []string
	Distinct bool
	Limit    int
	Offset   int
	// MinRating feeds the high-rating preset, MaxBadges the badge-creatable
	// preset and Since the trending preset.
	MinRating int64
	MaxBadges int64
	Since     time.Duration
}

func addQueryFlags(cmd *cobra.Command, o *QueryOptions) {
	f := cmd.Flags()
	f.Int64Var(&o.Shop, "shop", 0, "shop id the query is scoped to (required)")
	f.StringVar(&o.Preset, "preset", "all", fmt.Sprintf("review entry point (%s)", strings.Join(Presets, "|")))
	f.StringArrayVar(&o.Filters, "filter", nil, "lookup filter such as ratings__gte=4 (repeatable)")
	f.StringArrayVar(&o.Excludes, "exclude", nil, "lookup filter to exclude; each flag excludes on its own (repeatable)")
	f.StringSliceVar(&o.Order, "order", nil, "ordering fields, prefix with - for descending")
	f.StringSliceVar(&o.Select, "select", nil, "join-loaded relations")
	f.StringSliceVar(&o.Prefetch, "prefetch", nil, "batch-loaded relations")
	f.BoolVar(&o.Distinct, "distinct", false, "drop duplicate records")
	f.IntVar(&o.Limit, "limit", -1, "maximum number of records")
	f.IntVar(&o.Offset, "offset", 0, "records to skip")
	f.Int64Var(&o.MinRating, "min-rating", 4, "minimum rating for the high-rating preset")
	f.Int64Var(&o.MaxBadges, "max-badges", 3, "badge limit for the badge-creatable preset")
	f.DurationVar(&o.Since, "since", 7*24*time.Hour, "look-back window for the trending preset")
	_ = cmd.MarkFlagRequired("shop")
}

// Build turns the options into a builder on top of the selected preset.
func (o *QueryOptions) Build(m *review.Manager, now time.Time) (*query.Builder, error) {
	b, err := o.preset(m, now)
	if err != nil {
		return nil, err
	}

	filters, err := parseLookups(o.Filters)
	if err != nil {
		return nil, err
	}
	if b, err = b.FilterMap(filters); err != nil {
		return nil, err
	}
	// Each --exclude removes its own matches.
	for _, pair := range o.Excludes {
		excludes, err := parseLookups([]string{pair})
		if err != nil {
			return nil, err
		}
		leaves, err := query.ParseLookups(excludes)
		if err != nil {
			return nil, err
		}
		b = b.Exclude(leaves...)
	}

	if len(o.Order) > 0 {
		b = b.OrderBy(o.Order...)
	}
	b = b.SelectRelated(o.Select...).PrefetchRelated(o.Prefetch...)
	if o.Distinct {
		b = b.Distinct()
	}
	if o.Offset != 0 {
		b = b.Offset(o.Offset)
	}
	if o.Limit >= 0 {
		b = b.Limit(o.Limit)
	}
	return b, nil
}

func (o *QueryOptions) preset(m *review.Manager, now time.Time) (*query.Builder, error) {
	switch o.Preset {
	case "", "all":
		return m.GetByShop(o.Shop), nil
	case "published":
		return m.Published(o.Shop), nil
	case "high-rating":
		return m.HighRating(o.Shop, o.MinRating), nil
	case "media":
		return m.WithMedia(o.Shop), nil
	case "sns-pending":
		return m.SNSPending(o.Shop), nil
	case "needing-attention":
		return m.NeedingAttention(o.Shop)
	case "trending":
		return m.Trending(o.Shop, now.Add(-o.Since))
	case "badge-creatable":
		return m.BadgeCreatable(o.Shop, o.MaxBadges)
	default:
		return nil, fmt.Errorf("unknown preset %q: must be one of %v", o.Preset, Presets)
	}
}

// parseLookups splits key=value pairs. Values are typed the way they read:
// integers, floats and booleans become numbers and bools, "null" becomes nil,
// and "__in" values are split on commas.
func parseLookups(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q: expected key=value", pair)
		}
		if strings.HasSuffix(key, query.PathSeparator+string(query.OpIn)) {
			parts := strings.Split(raw, ",")
			values := make([]any, len(parts))
			for i, p := range parts {
				values[i] = parseValue(strings.TrimSpace(p))
			}
			out[key] = values
			continue
		}
		out[key] = parseValue(raw)
	}
	return out, nil
}

func parseValue(raw string) any {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	switch raw {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	return raw
}
