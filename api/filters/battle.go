package filters

import (
	"strings"
	"time"
)

const (
	defaultBattleLimit = 20
	maxBattleLimit     = 100
)

// Query parameters for the battle listing.
type BattleListParams struct {
	Login string `form:"login"`
	Type  string `form:"type" binding:"omitempty,oneof=A B C D"`
	From  int64  `form:"from" binding:"omitempty,min=0"`
	To    int64  `form:"to" binding:"omitempty,min=0"`
	Page  int    `form:"page,default=0" binding:"omitempty,min=0"`
	Limit int    `form:"limit,default=20" binding:"omitempty,min=1"`
}

// BattleListFilter is the repository side of the battle listing.
type BattleListFilter struct {
	Login  string
	Type   string
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// NewBattleListFilter converts the query parameters, clamping the page size.
func NewBattleListFilter(p BattleListParams) *BattleListFilter {
	limit := p.Limit
	switch {
	case limit <= 0:
		limit = defaultBattleLimit
	case limit > maxBattleLimit:
		limit = maxBattleLimit
	}

	f := &BattleListFilter{
		Login:  strings.TrimSpace(p.Login),
		Type:   p.Type,
		Limit:  limit,
		Offset: p.Page * limit,
	}

	if p.From > 0 {
		from := time.Unix(p.From, 0).UTC()
		f.From = &from
	}
	if p.To > 0 {
		to := time.Unix(p.To, 0).UTC()
		f.To = &to
	}

	return f
}
