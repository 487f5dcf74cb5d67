package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tzlogs/api/filters"
	"tzlogs/pkg/botdetect"
	"tzlogs/pkg/failures"
	"tzlogs/pkg/messages"
	"tzlogs/pkg/timepattern"

	"gorm.io/gorm"
)

// HotspotMinBattles is the smallest tile sample reported as a PvP hotspot.
const HotspotMinBattles = 5

// Sum of the damage buckets dealt to players in one participant row.
const pvpDamageExpr = `CASE WHEN jsonb_typeof(bp.damage_vs_players) = 'object'
	THEN (SELECT COALESCE(SUM(value::numeric), 0) FROM jsonb_each_text(bp.damage_vs_players))
	ELSE 0 END`

// AnalyticsRepository is the public interface for the read only analytics queries.
type AnalyticsRepository interface {
	PlayerStats(ctx context.Context, since time.Time, windowDays int) ([]botdetect.PlayerStats, error)
	PlayerStatsFor(ctx context.Context, login string, since time.Time, windowDays int) (*botdetect.PlayerStats, error)
	PlayerSummary(ctx context.Context, filters *filters.AnalyticsFilter) (*PlayerSummaryRow, error)
	PlayerLeaderboard(ctx context.Context, filters *filters.AnalyticsFilter) ([]PlayerSummaryRow, error)
	ClanStats(ctx context.Context, filters *filters.AnalyticsFilter) ([]ClanRow, error)
	MonsterStats(ctx context.Context, filters *filters.AnalyticsFilter) ([]MonsterRow, error)
	ResourceBuckets(ctx context.Context, filters *filters.AnalyticsFilter) ([]ResourceBucketRow, error)
	ResourceMiners(ctx context.Context, filters *filters.AnalyticsFilter) ([]MinerRow, error)
	Companions(ctx context.Context, filters *filters.AnalyticsFilter, sameSide bool) ([]CompanionRow, error)
	ClanMatrix(ctx context.Context, filters *filters.AnalyticsFilter) ([]ClanPairRow, error)
	Heatmap(ctx context.Context, filters *filters.AnalyticsFilter) ([]TileRow, error)
	PvPHotspots(ctx context.Context, filters *filters.AnalyticsFilter) ([]TileRow, error)
	ClanControl(ctx context.Context, filters *filters.AnalyticsFilter) ([]ClanTileRow, error)
	EloPool(ctx context.Context, filters *filters.AnalyticsFilter, minBattles int) ([]EloRow, error)
	ChurnCounts(ctx context.Context, filters *filters.AnalyticsFilter) ([]ChurnRow, error)
}

// analyticsRepository repository structure.
type analyticsRepository struct {
	db *gorm.DB
}

// NewAnalyticsRepository creates an analytics repository.
func NewAnalyticsRepository(db *gorm.DB) AnalyticsRepository {
	return &analyticsRepository{db: db}
}

// PlayerSummaryRow is the raw per player aggregate of a window.
type PlayerSummaryRow struct {
	Login         string    `gorm:"column:login"`
	Battles       int       `gorm:"column:battles"`
	PvPBattles    int       `gorm:"column:pvp_battles"`
	PvEBattles    int       `gorm:"column:pve_battles"`
	Survived      int       `gorm:"column:survived"`
	Clutches      int       `gorm:"column:clutches"`
	KillsMonsters int       `gorm:"column:kills_monsters"`
	KillsPlayers  int       `gorm:"column:kills_players"`
	Turns         int       `gorm:"column:turns"`
	FirstSeen     time.Time `gorm:"column:first_seen"`
	LastSeen      time.Time `gorm:"column:last_seen"`
}

type ClanRow struct {
	Clan     string `gorm:"column:clan"`
	Members  int    `gorm:"column:members"`
	Battles  int    `gorm:"column:battles"`
	Survived int    `gorm:"column:survived"`
	Entries  int    `gorm:"column:entries"`
	Kills    int    `gorm:"column:kills"`
}

type MonsterRow struct {
	Kind     string `gorm:"column:kind"`
	Battles  int    `gorm:"column:battles"`
	Total    int    `gorm:"column:total"`
	MinLevel int    `gorm:"column:min_level"`
	MaxLevel int    `gorm:"column:max_level"`
}

type ResourceBucketRow struct {
	Bucket   time.Time `gorm:"column:bucket"`
	Resource string    `gorm:"column:resource"`
	Qty      int       `gorm:"column:qty"`
	Pickups  int       `gorm:"column:pickups"`
	Battles  int       `gorm:"column:battles"`
}

type MinerRow struct {
	Login   string `gorm:"column:login"`
	Qty     int    `gorm:"column:qty"`
	Battles int    `gorm:"column:battles"`
}

type CompanionRow struct {
	Login   string `gorm:"column:login"`
	Battles int    `gorm:"column:battles"`
}

type ClanPairRow struct {
	ClanA   string `gorm:"column:clan_a"`
	ClanB   string `gorm:"column:clan_b"`
	Battles int    `gorm:"column:battles"`
}

type TileRow struct {
	X          int `gorm:"column:loc_x"`
	Y          int `gorm:"column:loc_y"`
	Battles    int `gorm:"column:battles"`
	PvPBattles int `gorm:"column:pvp_battles"`
}

type ClanTileRow struct {
	X       int    `gorm:"column:loc_x"`
	Y       int    `gorm:"column:loc_y"`
	Clan    string `gorm:"column:clan"`
	Battles int    `gorm:"column:battles"`
}

type EloRow struct {
	Login   string `gorm:"column:login"`
	Battles int    `gorm:"column:battles"`
	Wins    int    `gorm:"column:wins"`
}

type ChurnRow struct {
	Login      string `gorm:"column:login"`
	FirstHalf  int    `gorm:"column:first_half"`
	SecondHalf int    `gorm:"column:second_half"`
}

// participantRow is one battle of one player, the input of the bot features.
type participantRow struct {
	Login         string    `gorm:"column:login"`
	Ts            time.Time `gorm:"column:ts"`
	PvP           bool      `gorm:"column:pvp"`
	Survived      bool      `gorm:"column:survived"`
	KillsMonsters int       `gorm:"column:kills_monsters"`
	KillsPlayers  int       `gorm:"column:kills_players"`
	PvePoints     int       `gorm:"column:pve_points"`
	RankPoints    int       `gorm:"column:rank_points"`
	PvPDamage     float64   `gorm:"column:pvp_damage"`
	LocX          int       `gorm:"column:loc_x"`
	LocY          int       `gorm:"column:loc_y"`
}

// PlayerStats builds the bot detection inputs of every player active in the window of
// windowDays days starting at since.
func (ar *analyticsRepository) PlayerStats(ctx context.Context, since time.Time, windowDays int) ([]botdetect.PlayerStats, error) {
	return ar.playerStats(ctx, since, windowDays, "")
}

// PlayerStatsFor builds the bot detection inputs of one player.
func (ar *analyticsRepository) PlayerStatsFor(ctx context.Context, login string, since time.Time, windowDays int) (*botdetect.PlayerStats, error) {
	stats, err := ar.playerStats(ctx, since, windowDays, login)
	if err != nil {
		return nil, err
	}
	if len(stats) == 0 {
		return nil, failures.Newf(failures.KindNotFound, "analytics.PlayerStatsFor", "player %s has no battles in the window", login)
	}
	return &stats[0], nil
}

func (ar *analyticsRepository) playerStats(ctx context.Context, since time.Time, windowDays int, login string) ([]botdetect.PlayerStats, error) {
	query := ar.db.WithContext(ctx).
		Table("battle_participants bp").
		Select(`bp.login, b.ts, b.participant_count > 1 AS pvp, bp.survived,
			bp.kills_monsters, bp.kills_players, bp.pve_points, bp.rank_points,
			`+pvpDamageExpr+` AS pvp_damage, b.loc_x, b.loc_y`).
		Joins("JOIN battles b ON b.id = bp.battle_internal_id").
		Where("b.ts >= ? AND b.ts < ?", since, since.AddDate(0, 0, windowDays))

	if login != "" {
		query = query.Where("bp.login = ?", login)
	}

	rows, err := query.Order("bp.login, b.ts").Rows()
	if err != nil {
		return nil, failures.Wrap(failures.KindStorage, "analytics.PlayerStats", err)
	}
	defer rows.Close()

	var (
		out        []botdetect.PlayerStats
		current    *botdetect.PlayerStats
		timestamps []time.Time
		locations  map[[2]int]struct{}
	)

	flush := func() {
		if current == nil {
			return
		}
		current.Locations = len(locations)
		current.Time = timepattern.Extract(timestamps)
		out = append(out, *current)
	}

	for rows.Next() {
		var row participantRow
		if err := ar.db.ScanRows(rows, &row); err != nil {
			return nil, failures.Wrap(failures.KindStorage, "analytics.PlayerStats", err)
		}

		if current == nil || current.Login != row.Login {
			flush()
			current = &botdetect.PlayerStats{Login: row.Login, WindowDays: windowDays}
			timestamps = timestamps[:0:0]
			locations = make(map[[2]int]struct{})
		}

		addBattle(current, row)
		timestamps = append(timestamps, row.Ts)
		locations[[2]int{row.LocX, row.LocY}] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, failures.Wrap(failures.KindStorage, "analytics.PlayerStats", err)
	}
	flush()

	return out, nil
}

// addBattle folds one battle into a player aggregate.
func addBattle(s *botdetect.PlayerStats, row participantRow) {
	s.TotalBattles++
	s.KillsMonsters += row.KillsMonsters
	s.KillsPlayers += row.KillsPlayers
	s.SumPvePoints += float64(row.PvePoints)
	s.SumRankPoints += float64(row.RankPoints)
	if row.Survived {
		s.Survived++
	}

	if row.PvP {
		s.PvPBattles++
		s.PvPKills += row.KillsPlayers
		s.PvPDamage += row.PvPDamage
		if row.Survived {
			s.PvPSurvived++
		}
	}
}

const summarySelect = `bp.login,
	COUNT(*) AS battles,
	SUM(CASE WHEN b.participant_count > 1 THEN 1 ELSE 0 END) AS pvp_battles,
	SUM(CASE WHEN b.monster_count > 0 THEN 1 ELSE 0 END) AS pve_battles,
	SUM(CASE WHEN bp.survived THEN 1 ELSE 0 END) AS survived,
	SUM(CASE WHEN bp.survived AND EXISTS (
		SELECT 1 FROM battle_participants o
		WHERE o.battle_internal_id = bp.battle_internal_id AND o.login <> bp.login AND NOT o.survived
	) THEN 1 ELSE 0 END) AS clutches,
	SUM(bp.kills_monsters) AS kills_monsters,
	SUM(bp.kills_players) AS kills_players,
	SUM(b.duration_turns) AS turns,
	MIN(b.ts) AS first_seen,
	MAX(b.ts) AS last_seen`

// PlayerSummary aggregates one player over the window.
func (ar *analyticsRepository) PlayerSummary(ctx context.Context, filters *filters.AnalyticsFilter) (*PlayerSummaryRow, error) {
	if filters == nil {
		return nil, errors.New(messages.FiltersNotNil)
	}

	var rows []PlayerSummaryRow
	err := ar.participantsInWindow(ctx, filters).
		Select(summarySelect).
		Where("bp.login = ?", filters.Login).
		Group("bp.login").
		Scan(&rows).Error
	if err != nil {
		return nil, failures.Wrap(failures.KindStorage, "analytics.PlayerSummary", err)
	}
	if len(rows) == 0 {
		return nil, failures.Newf(failures.KindNotFound, "analytics.PlayerSummary", "player %s has no battles in the window", filters.Login)
	}

	return &rows[0], nil
}

var leaderboardOrder = map[string]string{
	"battles":  "battles DESC",
	"kills":    "SUM(bp.kills_monsters + bp.kills_players) DESC",
	"survival": "SUM(CASE WHEN bp.survived THEN 1 ELSE 0 END)::float / COUNT(*) DESC",
	"kpm":      "SUM(bp.kills_monsters + bp.kills_players)::float / COUNT(*) DESC",
}

// PlayerLeaderboard ranks the players of the window.
func (ar *analyticsRepository) PlayerLeaderboard(ctx context.Context, filters *filters.AnalyticsFilter) ([]PlayerSummaryRow, error) {
	if filters == nil {
		return nil, errors.New(messages.FiltersNotNil)
	}

	order, ok := leaderboardOrder[filters.SortBy]
	if !ok {
		order = leaderboardOrder["battles"]
	}

	var rows []PlayerSummaryRow
	err := ar.participantsInWindow(ctx, filters).
		Select(summarySelect).
		Group("bp.login").
		Order(order + ", bp.login").
		Limit(filters.Limit).
		Offset(filters.Offset).
		Scan(&rows).Error
	if err != nil {
		return nil, failures.Wrap(failures.KindStorage, "analytics.PlayerLeaderboard", err)
	}

	return rows, nil
}

// ClanStats aggregates clans. The clan filter is a substring match.
func (ar *analyticsRepository) ClanStats(ctx context.Context, filters *filters.AnalyticsFilter) ([]ClanRow, error) {
	if filters == nil {
		return nil, errors.New(messages.FiltersNotNil)
	}

	query := ar.participantsInWindow(ctx, filters).
		Select(`c.name AS clan,
			COUNT(DISTINCT bp.login) AS members,
			COUNT(DISTINCT bp.battle_internal_id) AS battles,
			SUM(CASE WHEN bp.survived THEN 1 ELSE 0 END) AS survived,
			COUNT(*) AS entries,
			SUM(bp.kills_monsters + bp.kills_players) AS kills`).
		Joins("JOIN clans c ON c.id = bp.clan_id")

	if filters.Clan != "" {
		query = query.Where("c.name ILIKE ?", "%"+filters.Clan+"%")
	}

	var rows []ClanRow
	err := query.
		Group("c.name").
		Order("battles DESC, c.name").
		Limit(filters.Limit).
		Offset(filters.Offset).
		Scan(&rows).Error
	if err != nil {
		return nil, failures.Wrap(failures.KindStorage, "analytics.ClanStats", err)
	}

	return rows, nil
}

// MonsterStats aggregates the monster kinds met in the window.
func (ar *analyticsRepository) MonsterStats(ctx context.Context, filters *filters.AnalyticsFilter) ([]MonsterRow, error) {
	if filters == nil {
		return nil, errors.New(messages.FiltersNotNil)
	}

	var rows []MonsterRow
	err := ar.db.WithContext(ctx).
		Table("battle_monsters bm").
		Select(`k.name AS kind,
			COUNT(DISTINCT bm.battle_internal_id) AS battles,
			SUM(bm.count) AS total,
			MIN(bm.min_level) AS min_level,
			MAX(bm.max_level) AS max_level`).
		Joins("JOIN battles b ON b.id = bm.battle_internal_id").
		Joins("JOIN monster_kinds k ON k.id = bm.kind_id").
		Where("b.ts >= ? AND b.ts < ?", filters.Since, filters.Until).
		Group("k.name").
		Order("total DESC, k.name").
		Limit(filters.Limit).
		Offset(filters.Offset).
		Scan(&rows).Error
	if err != nil {
		return nil, failures.Wrap(failures.KindStorage, "analytics.MonsterStats", err)
	}

	return rows, nil
}

// ResourceBuckets sums the resource loot per day or week, optionally for one tile or resource.
func (ar *analyticsRepository) ResourceBuckets(ctx context.Context, filters *filters.AnalyticsFilter) ([]ResourceBucketRow, error) {
	if filters == nil {
		return nil, errors.New(messages.FiltersNotNil)
	}

	trunc := "day"
	if filters.Granularity == "week" {
		trunc = "week"
	}

	query := ar.db.WithContext(ctx).
		Table("battle_loot bl").
		Select(fmt.Sprintf(`date_trunc('%s', b.ts AT TIME ZONE 'UTC') AS bucket,
			bl.name AS resource,
			SUM(bl.qty) AS qty,
			SUM(bl.pickups) AS pickups,
			COUNT(DISTINCT bl.battle_internal_id) AS battles`, trunc)).
		Joins("JOIN battles b ON b.id = bl.battle_internal_id").
		Where("bl.kind = ?", "resource").
		Where("b.ts >= ? AND b.ts < ?", filters.Since, filters.Until)

	query = withTile(query, filters)
	if filters.Resource != "" {
		query = query.Where("bl.name = ?", filters.Resource)
	}

	var rows []ResourceBucketRow
	err := query.
		Group("bucket, bl.name").
		Order("bucket, bl.name").
		Scan(&rows).Error
	if err != nil {
		return nil, failures.Wrap(failures.KindStorage, "analytics.ResourceBuckets", err)
	}

	return rows, nil
}

// ResourceMiners ranks the players by the quantity of one resource they picked up.
func (ar *analyticsRepository) ResourceMiners(ctx context.Context, filters *filters.AnalyticsFilter) ([]MinerRow, error) {
	if filters == nil {
		return nil, errors.New(messages.FiltersNotNil)
	}
	if filters.Resource == "" {
		return nil, failures.Newf(failures.KindValidation, "analytics.ResourceMiners", "resource is required")
	}

	query := ar.participantsInWindow(ctx, filters).
		Select(`bp.login,
			SUM((item->>'qty')::int) AS qty,
			COUNT(DISTINCT bp.battle_internal_id) AS battles`).
		Joins(`CROSS JOIN LATERAL jsonb_array_elements(
			CASE WHEN jsonb_typeof(bp.loot->'resources') = 'array' THEN bp.loot->'resources' ELSE '[]'::jsonb END
		) AS item`).
		Where("item->>'name' = ?", filters.Resource)
	query = withTile(query, filters)

	var rows []MinerRow
	err := query.
		Group("bp.login").
		Order("qty DESC, bp.login").
		Limit(filters.Limit).
		Offset(filters.Offset).
		Scan(&rows).Error
	if err != nil {
		return nil, failures.Wrap(failures.KindStorage, "analytics.ResourceMiners", err)
	}

	return rows, nil
}

// Companions lists the players met by filters.Login, on the same side (allies) or the other (rivals).
func (ar *analyticsRepository) Companions(ctx context.Context, filters *filters.AnalyticsFilter, sameSide bool) ([]CompanionRow, error) {
	if filters == nil {
		return nil, errors.New(messages.FiltersNotNil)
	}

	sideCond := "o.side <> bp.side"
	if sameSide {
		sideCond = "o.side = bp.side"
	}

	var rows []CompanionRow
	err := ar.participantsInWindow(ctx, filters).
		Select("o.login, COUNT(DISTINCT bp.battle_internal_id) AS battles").
		Joins("JOIN battle_participants o ON o.battle_internal_id = bp.battle_internal_id AND o.login <> bp.login AND "+sideCond).
		Where("bp.login = ?", filters.Login).
		Group("o.login").
		Order("battles DESC, o.login").
		Limit(filters.Limit).
		Offset(filters.Offset).
		Scan(&rows).Error
	if err != nil {
		return nil, failures.Wrap(failures.KindStorage, "analytics.Companions", err)
	}

	return rows, nil
}

// ClanMatrix counts the battles where two clans fought on opposite sides.
func (ar *analyticsRepository) ClanMatrix(ctx context.Context, filters *filters.AnalyticsFilter) ([]ClanPairRow, error) {
	if filters == nil {
		return nil, errors.New(messages.FiltersNotNil)
	}

	var rows []ClanPairRow
	err := ar.participantsInWindow(ctx, filters).
		Select("ca.name AS clan_a, cb.name AS clan_b, COUNT(DISTINCT bp.battle_internal_id) AS battles").
		Joins("JOIN battle_participants o ON o.battle_internal_id = bp.battle_internal_id AND o.side <> bp.side").
		Joins("JOIN clans ca ON ca.id = bp.clan_id").
		Joins("JOIN clans cb ON cb.id = o.clan_id").
		Where("ca.name <= cb.name").
		Group("ca.name, cb.name").
		Order("battles DESC, ca.name, cb.name").
		Limit(filters.Limit).
		Offset(filters.Offset).
		Scan(&rows).Error
	if err != nil {
		return nil, failures.Wrap(failures.KindStorage, "analytics.ClanMatrix", err)
	}

	return rows, nil
}

// Heatmap counts battles per tile.
func (ar *analyticsRepository) Heatmap(ctx context.Context, filters *filters.AnalyticsFilter) ([]TileRow, error) {
	if filters == nil {
		return nil, errors.New(messages.FiltersNotNil)
	}

	var rows []TileRow
	err := ar.tiles(ctx, filters).
		Order("battles DESC, b.loc_x, b.loc_y").
		Limit(filters.Limit).
		Offset(filters.Offset).
		Scan(&rows).Error
	if err != nil {
		return nil, failures.Wrap(failures.KindStorage, "analytics.Heatmap", err)
	}

	return rows, nil
}

// PvPHotspots ranks the tiles with enough battles by their PvP share.
func (ar *analyticsRepository) PvPHotspots(ctx context.Context, filters *filters.AnalyticsFilter) ([]TileRow, error) {
	if filters == nil {
		return nil, errors.New(messages.FiltersNotNil)
	}

	var rows []TileRow
	err := ar.tiles(ctx, filters).
		Having("COUNT(*) >= ?", HotspotMinBattles).
		Order("SUM(CASE WHEN b.participant_count > 1 THEN 1 ELSE 0 END)::float / COUNT(*) DESC, battles DESC, b.loc_x, b.loc_y").
		Limit(filters.Limit).
		Offset(filters.Offset).
		Scan(&rows).Error
	if err != nil {
		return nil, failures.Wrap(failures.KindStorage, "analytics.PvPHotspots", err)
	}

	return rows, nil
}

func (ar *analyticsRepository) tiles(ctx context.Context, filters *filters.AnalyticsFilter) *gorm.DB {
	return ar.db.WithContext(ctx).
		Table("battles b").
		Select(`b.loc_x, b.loc_y, COUNT(*) AS battles,
			SUM(CASE WHEN b.participant_count > 1 THEN 1 ELSE 0 END) AS pvp_battles`).
		Where("b.ts >= ? AND b.ts < ?", filters.Since, filters.Until).
		Group("b.loc_x, b.loc_y")
}

// ClanControl returns the clan with the most battles on every tile.
func (ar *analyticsRepository) ClanControl(ctx context.Context, filters *filters.AnalyticsFilter) ([]ClanTileRow, error) {
	if filters == nil {
		return nil, errors.New(messages.FiltersNotNil)
	}

	var rows []ClanTileRow
	err := ar.db.WithContext(ctx).Raw(`
		SELECT DISTINCT ON (t.loc_x, t.loc_y) t.loc_x, t.loc_y, t.clan, t.battles
		FROM (
			SELECT b.loc_x, b.loc_y, c.name AS clan, COUNT(DISTINCT b.id) AS battles
			FROM battles b
			JOIN battle_participants bp ON bp.battle_internal_id = b.id
			JOIN clans c ON c.id = bp.clan_id
			WHERE b.ts >= ? AND b.ts < ?
			GROUP BY b.loc_x, b.loc_y, c.name
		) t
		ORDER BY t.loc_x, t.loc_y, t.battles DESC, t.clan
		LIMIT ? OFFSET ?`,
		filters.Since, filters.Until, filters.Limit, filters.Offset,
	).Scan(&rows).Error
	if err != nil {
		return nil, failures.Wrap(failures.KindStorage, "analytics.ClanControl", err)
	}

	return rows, nil
}

// EloPool returns wins and battles of the players with at least minBattles in the pool,
// best balance first.
func (ar *analyticsRepository) EloPool(ctx context.Context, filters *filters.AnalyticsFilter, minBattles int) ([]EloRow, error) {
	if filters == nil {
		return nil, errors.New(messages.FiltersNotNil)
	}

	query := ar.participantsInWindow(ctx, filters).
		Select("bp.login, COUNT(*) AS battles, SUM(CASE WHEN bp.survived THEN 1 ELSE 0 END) AS wins")

	switch filters.Pool {
	case "pvp":
		query = query.Where("b.participant_count > 1")
	case "pve":
		query = query.Where("b.monster_count > 0")
	}

	var rows []EloRow
	err := query.
		Group("bp.login").
		Having("COUNT(*) >= ?", minBattles).
		Order("2 * SUM(CASE WHEN bp.survived THEN 1 ELSE 0 END) - COUNT(*) DESC, bp.login").
		Limit(filters.Limit).
		Offset(filters.Offset).
		Scan(&rows).Error
	if err != nil {
		return nil, failures.Wrap(failures.KindStorage, "analytics.EloPool", err)
	}

	return rows, nil
}

// ChurnCounts splits the battles of every player active in the first half of the window.
func (ar *analyticsRepository) ChurnCounts(ctx context.Context, filters *filters.AnalyticsFilter) ([]ChurnRow, error) {
	if filters == nil {
		return nil, errors.New(messages.FiltersNotNil)
	}

	mid := filters.Midpoint()

	var rows []ChurnRow
	err := ar.participantsInWindow(ctx, filters).
		Select(`bp.login,
			SUM(CASE WHEN b.ts < ? THEN 1 ELSE 0 END) AS first_half,
			SUM(CASE WHEN b.ts >= ? THEN 1 ELSE 0 END) AS second_half`, mid, mid).
		Group("bp.login").
		Having("SUM(CASE WHEN b.ts < ? THEN 1 ELSE 0 END) > 0", mid).
		Order("bp.login").
		Scan(&rows).Error
	if err != nil {
		return nil, failures.Wrap(failures.KindStorage, "analytics.ChurnCounts", err)
	}

	return rows, nil
}

// participantsInWindow is the base participant query of a window.
func (ar *analyticsRepository) participantsInWindow(ctx context.Context, filters *filters.AnalyticsFilter) *gorm.DB {
	return ar.db.WithContext(ctx).
		Table("battle_participants bp").
		Joins("JOIN battles b ON b.id = bp.battle_internal_id").
		Where("b.ts >= ? AND b.ts < ?", filters.Since, filters.Until)
}

func withTile(query *gorm.DB, filters *filters.AnalyticsFilter) *gorm.DB {
	if filters.X != nil {
		query = query.Where("b.loc_x = ?", *filters.X)
	}
	if filters.Y != nil {
		query = query.Where("b.loc_y = ?", *filters.Y)
	}
	return query
}
