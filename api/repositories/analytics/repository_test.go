package repositories

import (
	"context"
	"testing"
	"time"

	"tzlogs/api/filters"
	battlerepository "tzlogs/api/repositories/battle"
	"tzlogs/internal/testutil"
	"tzlogs/pkg/battlelog"
	"tzlogs/pkg/failures"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func participant(login, clan string, side int, survived bool) battlelog.Participant {
	return battlelog.Participant{
		Login:      login,
		Clan:       clan,
		Side:       side,
		Level:      10,
		Survived:   survived,
		Intervened: battlelog.Intervention{State: battlelog.IntervenedNone},
	}
}

func battle(id int64, ts time.Time, x, y int, participants ...battlelog.Participant) *battlelog.Record {
	return &battlelog.Record{
		BattleID:     id,
		Timestamp:    ts,
		Turns:        4,
		Type:         "A",
		Location:     battlelog.Location{X: x, Y: y},
		SizeBytes:    100,
		SHA256:       "sha",
		Participants: participants,
		Monsters: []battlelog.MonsterAggregate{
			{Kind: "Rat", Spec: "Rat", Side: 1, Count: 2, MinLevel: 1, MaxLevel: 3},
		},
		Loot: []battlelog.LootEntry{
			{Kind: battlelog.LootResource, Name: "Metals", Qty: 3, Pickups: 1},
		},
	}
}

// seed stores a pvp battle 20 days ago, a pve battle 2 days ago and one outside the window.
func seed(t *testing.T, db *gorm.DB) {
	t.Helper()

	alice := participant("alice", "Wolves", 0, true)
	alice.Kills = battlelog.Kills{Monsters: 2, Players: 1}
	alice.Loot = battlelog.ParticipantLoot{Resources: []battlelog.LootItem{{Name: "Metals", Qty: 3}}}
	bob := participant("bob", "Bears", 1, false)

	pve := participant("alice", "Wolves", 0, true)
	pve.Kills = battlelog.Kills{Monsters: 2}
	pve.Loot = battlelog.ParticipantLoot{Resources: []battlelog.LootItem{{Name: "Metals", Qty: 5}}}

	records := []*battlelog.Record{
		battle(1, now.AddDate(0, 0, -20), 10, 20, alice, bob),
		battle(2, now.AddDate(0, 0, -2), 10, 20, pve),
		battle(3, now.AddDate(0, 0, -60), 5, 5, participant("carol", "", 0, true)),
	}

	battles := battlerepository.NewBattleRepository(db)
	for _, rec := range records {
		_, err := battles.UpsertBattle(context.Background(), rec)
		require.NoError(t, err)
	}
}

func window(p filters.AnalyticsParams) *filters.AnalyticsFilter {
	return filters.NewAnalyticsFilter(p, 30, now)
}

func TestNewAnalyticsRepository(t *testing.T) {
	repository := NewAnalyticsRepository(&gorm.DB{})
	assert.NotNil(t, repository)
}

func TestNilFilters(t *testing.T) {
	repository := NewAnalyticsRepository(&gorm.DB{})
	ctx := context.Background()

	_, err := repository.PlayerLeaderboard(ctx, nil)
	assert.Error(t, err)
	_, err = repository.ClanStats(ctx, nil)
	assert.Error(t, err)
	_, err = repository.EloPool(ctx, nil, 10)
	assert.Error(t, err)
	_, err = repository.ChurnCounts(ctx, nil)
	assert.Error(t, err)
}

func TestAnalyticsQueries(t *testing.T) {
	db, cleanup := testutil.NewTestConnection(t)
	defer cleanup()
	seed(t, db)

	repository := NewAnalyticsRepository(db)
	ctx := context.Background()

	t.Run("player summary", func(t *testing.T) {
		f := window(filters.AnalyticsParams{})
		f.Login = "alice"

		row, err := repository.PlayerSummary(ctx, f)
		require.NoError(t, err)
		assert.Equal(t, 2, row.Battles)
		assert.Equal(t, 1, row.PvPBattles)
		assert.Equal(t, 2, row.PvEBattles)
		assert.Equal(t, 2, row.Survived)
		assert.Equal(t, 1, row.Clutches)
		assert.Equal(t, 4, row.KillsMonsters)
		assert.Equal(t, 1, row.KillsPlayers)
		assert.Equal(t, 8, row.Turns)
	})

	t.Run("player outside the window", func(t *testing.T) {
		f := window(filters.AnalyticsParams{})
		f.Login = "carol"

		_, err := repository.PlayerSummary(ctx, f)
		assert.True(t, failures.Is(err, failures.KindNotFound))
	})

	t.Run("leaderboard", func(t *testing.T) {
		rows, err := repository.PlayerLeaderboard(ctx, window(filters.AnalyticsParams{}))
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "alice", rows[0].Login)
		assert.Equal(t, "bob", rows[1].Login)
	})

	t.Run("clans by substring", func(t *testing.T) {
		rows, err := repository.ClanStats(ctx, window(filters.AnalyticsParams{Clan: "wol"}))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "Wolves", rows[0].Clan)
		assert.Equal(t, 2, rows[0].Battles)
		assert.Equal(t, 1, rows[0].Members)
	})

	t.Run("monsters", func(t *testing.T) {
		rows, err := repository.MonsterStats(ctx, window(filters.AnalyticsParams{}))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "Rat", rows[0].Kind)
		assert.Equal(t, 2, rows[0].Battles)
		assert.Equal(t, 4, rows[0].Total)
	})

	t.Run("resource buckets", func(t *testing.T) {
		rows, err := repository.ResourceBuckets(ctx, window(filters.AnalyticsParams{Resource: "Metals"}))
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.True(t, rows[0].Bucket.Before(rows[1].Bucket))
		assert.Equal(t, 3, rows[0].Qty)
	})

	t.Run("miners", func(t *testing.T) {
		rows, err := repository.ResourceMiners(ctx, window(filters.AnalyticsParams{Resource: "Metals"}))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, MinerRow{Login: "alice", Qty: 8, Battles: 2}, rows[0])

		_, err = repository.ResourceMiners(ctx, window(filters.AnalyticsParams{}))
		assert.True(t, failures.Is(err, failures.KindValidation))
	})

	t.Run("allies and rivals", func(t *testing.T) {
		f := window(filters.AnalyticsParams{})
		f.Login = "alice"

		rivals, err := repository.Companions(ctx, f, false)
		require.NoError(t, err)
		assert.Equal(t, []CompanionRow{{Login: "bob", Battles: 1}}, rivals)

		allies, err := repository.Companions(ctx, f, true)
		require.NoError(t, err)
		assert.Empty(t, allies)
	})

	t.Run("clan matrix", func(t *testing.T) {
		rows, err := repository.ClanMatrix(ctx, window(filters.AnalyticsParams{}))
		require.NoError(t, err)
		assert.Equal(t, []ClanPairRow{{ClanA: "Bears", ClanB: "Wolves", Battles: 1}}, rows)
	})

	t.Run("tiles", func(t *testing.T) {
		rows, err := repository.Heatmap(ctx, window(filters.AnalyticsParams{}))
		require.NoError(t, err)
		assert.Equal(t, []TileRow{{X: 10, Y: 20, Battles: 2, PvPBattles: 1}}, rows)

		// Two battles are not enough for a hotspot.
		hot, err := repository.PvPHotspots(ctx, window(filters.AnalyticsParams{}))
		require.NoError(t, err)
		assert.Empty(t, hot)

		control, err := repository.ClanControl(ctx, window(filters.AnalyticsParams{}))
		require.NoError(t, err)
		assert.Equal(t, []ClanTileRow{{X: 10, Y: 20, Clan: "Wolves", Battles: 2}}, control)
	})

	t.Run("elo pool", func(t *testing.T) {
		rows, err := repository.EloPool(ctx, window(filters.AnalyticsParams{}), 1)
		require.NoError(t, err)
		assert.Equal(t, []EloRow{
			{Login: "alice", Battles: 2, Wins: 2},
			{Login: "bob", Battles: 1, Wins: 0},
		}, rows)

		pvp, err := repository.EloPool(ctx, window(filters.AnalyticsParams{Pool: filters.PoolPvP}), 1)
		require.NoError(t, err)
		require.Len(t, pvp, 2)
		assert.Equal(t, 1, pvp[0].Battles)

		// Nobody reaches the minimum.
		rows, err = repository.EloPool(ctx, window(filters.AnalyticsParams{}), 10)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("churn halves", func(t *testing.T) {
		rows, err := repository.ChurnCounts(ctx, window(filters.AnalyticsParams{}))
		require.NoError(t, err)
		assert.Equal(t, []ChurnRow{
			{Login: "alice", FirstHalf: 1, SecondHalf: 1},
			{Login: "bob", FirstHalf: 1, SecondHalf: 0},
		}, rows)
	})

	t.Run("bot inputs", func(t *testing.T) {
		f := window(filters.AnalyticsParams{})

		stats, err := repository.PlayerStats(ctx, f.Since, f.WindowDays)
		require.NoError(t, err)
		require.Len(t, stats, 2)

		alice := stats[0]
		assert.Equal(t, "alice", alice.Login)
		assert.Equal(t, 2, alice.TotalBattles)
		assert.Equal(t, 1, alice.PvPBattles)
		assert.Equal(t, 1, alice.PvPKills)
		assert.Equal(t, 1, alice.Locations)
		assert.Equal(t, 2, alice.Time.TotalBattles)

		one, err := repository.PlayerStatsFor(ctx, "bob", f.Since, f.WindowDays)
		require.NoError(t, err)
		assert.Equal(t, 1, one.TotalBattles)

		_, err = repository.PlayerStatsFor(ctx, "carol", f.Since, f.WindowDays)
		assert.True(t, failures.Is(err, failures.KindNotFound))
	})
}

func TestPlayerStatsExcludesFutureBattles(t *testing.T) {
	db, cleanup := testutil.NewTestConnection(t)
	defer cleanup()
	seed(t, db)

	battles := battlerepository.NewBattleRepository(db)
	_, err := battles.UpsertBattle(context.Background(), battle(4, now.Add(2*time.Hour), 1, 1, participant("dave", "", 0, true)))
	require.NoError(t, err)
	_, err = battles.UpsertBattle(context.Background(), battle(5, now.Add(3*time.Hour), 10, 20, participant("alice", "Wolves", 0, true)))
	require.NoError(t, err)

	repository := NewAnalyticsRepository(db)
	f := window(filters.AnalyticsParams{})

	stats, err := repository.PlayerStats(context.Background(), f.Since, f.WindowDays)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "alice", stats[0].Login)
	assert.Equal(t, 2, stats[0].TotalBattles)
	assert.Equal(t, "bob", stats[1].Login)

	_, err = repository.PlayerStatsFor(context.Background(), "dave", f.Since, f.WindowDays)
	assert.True(t, failures.Is(err, failures.KindNotFound))
}
