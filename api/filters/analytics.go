package filters

import (
	"strconv"
	"strings"
	"time"
)

const (
	defaultAnalyticsLimit = 50
	maxAnalyticsLimit     = 500
	defaultPvPWeight      = 2.0
)

// Granularities of the resource economy buckets.
const (
	GranularityDay  = "day"
	GranularityWeek = "week"
)

// ELO battle pools.
const (
	PoolAll = "all"
	PoolPvP = "pvp"
	PoolPvE = "pve"
)

// Query parameters shared by the analytics endpoints. Each endpoint reads the fields it needs.
type AnalyticsParams struct {
	WindowDays     int     `form:"window_days" binding:"omitempty,min=1,max=365"`
	Page           int     `form:"page,default=0" binding:"omitempty,min=0"`
	Limit          int     `form:"limit,default=50" binding:"omitempty,min=1"`
	SortBy         string  `form:"sort_by" binding:"omitempty,oneof=battles kills survival kpm"`
	Clan           string  `form:"clan"`
	Resource       string  `form:"resource"`
	X              *int    `form:"x"`
	Y              *int    `form:"y"`
	Granularity    string  `form:"granularity" binding:"omitempty,oneof=day week"`
	Pool           string  `form:"pool" binding:"omitempty,oneof=all pvp pve"`
	PvPWeight      float64 `form:"pvp_weight" binding:"omitempty,gt=0,lte=100"`
	ExcludeBots    bool    `form:"exclude_bots"`
	MinProbability float64 `form:"min_probability" binding:"omitempty,min=0,max=1"`
}

// AnalyticsFilter is the resolved window and options of an analytics query.
type AnalyticsFilter struct {
	WindowDays     int
	Since          time.Time
	Until          time.Time
	Login          string
	Limit          int
	Offset         int
	SortBy         string
	Clan           string
	Resource       string
	X              *int
	Y              *int
	Granularity    string
	Pool           string
	PvPWeight      float64
	ExcludeBots    bool
	MinProbability float64
}

// NewAnalyticsFilter resolves the window against now, falling back to defaultWindow days.
func NewAnalyticsFilter(p AnalyticsParams, defaultWindow int, now time.Time) *AnalyticsFilter {
	window := p.WindowDays
	if window <= 0 {
		window = defaultWindow
	}

	limit := p.Limit
	switch {
	case limit <= 0:
		limit = defaultAnalyticsLimit
	case limit > maxAnalyticsLimit:
		limit = maxAnalyticsLimit
	}

	f := &AnalyticsFilter{
		WindowDays:     window,
		Until:          now.UTC(),
		Since:          now.UTC().AddDate(0, 0, -window),
		Limit:          limit,
		Offset:         p.Page * limit,
		SortBy:         p.SortBy,
		Clan:           strings.TrimSpace(p.Clan),
		Resource:       strings.TrimSpace(p.Resource),
		X:              p.X,
		Y:              p.Y,
		Granularity:    p.Granularity,
		Pool:           p.Pool,
		PvPWeight:      p.PvPWeight,
		ExcludeBots:    p.ExcludeBots,
		MinProbability: p.MinProbability,
	}

	if f.SortBy == "" {
		f.SortBy = "battles"
	}
	if f.Granularity == "" {
		f.Granularity = GranularityDay
	}
	if f.Pool == "" {
		f.Pool = PoolAll
	}
	if f.PvPWeight == 0 {
		f.PvPWeight = defaultPvPWeight
	}

	return f
}

// Midpoint splits the window in two halves.
func (f *AnalyticsFilter) Midpoint() time.Time {
	return f.Since.Add(f.Until.Sub(f.Since) / 2)
}

// Key builds the cache key of a query with this filter.
func (f *AnalyticsFilter) Key(prefix string) string {
	var builder strings.Builder
	builder.WriteString("analytics:")
	builder.WriteString(prefix)
	builder.WriteString(":w" + strconv.Itoa(f.WindowDays))
	builder.WriteString(":l" + strconv.Itoa(f.Limit))
	builder.WriteString(":o" + strconv.Itoa(f.Offset))

	if f.Login != "" {
		builder.WriteString(":login_" + f.Login)
	}
	if f.Clan != "" {
		builder.WriteString(":clan_" + f.Clan)
	}
	if f.Resource != "" {
		builder.WriteString(":res_" + f.Resource)
	}
	if f.X != nil {
		builder.WriteString(":x" + strconv.Itoa(*f.X))
	}
	if f.Y != nil {
		builder.WriteString(":y" + strconv.Itoa(*f.Y))
	}

	builder.WriteString(":" + f.SortBy + ":" + f.Granularity + ":" + f.Pool)
	builder.WriteString(":pw" + strconv.FormatFloat(f.PvPWeight, 'f', -1, 64))

	if f.ExcludeBots {
		builder.WriteString(":nobots")
	}
	if f.MinProbability > 0 {
		builder.WriteString(":minp" + strconv.FormatFloat(f.MinProbability, 'f', -1, 64))
	}

	return builder.String()
}
