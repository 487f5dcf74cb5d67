package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"tzlogs/api/filters"
	"tzlogs/internal/testutil"
	"tzlogs/pkg/battlelog"
	"tzlogs/pkg/database/models"
	"tzlogs/pkg/failures"
	"tzlogs/pkg/messages"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var fixedDate = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func sampleRecord(battleID int64, ts time.Time) *battlelog.Record {
	start := ts.Add(-5 * time.Minute)
	escapeTurn := 3

	return &battlelog.Record{
		BattleID:   battleID,
		Timestamp:  ts,
		Turns:      5,
		Type:       "B",
		Location:   battlelog.Location{X: 10, Y: 20},
		StartTime:  &start,
		SizeBytes:  512,
		SHA256:     "abc123",
		SourcePath: "/srv/btl/raw/0/1.tzb",
		Header:     map[string]string{"f": "B", "turn": "5"},
		Participants: []battlelog.Participant{
			{
				Login:    "alice",
				Clan:     "Wolves",
				Side:     0,
				Level:    12,
				Survived: true,
				Kills:    battlelog.Kills{Monsters: 2, Players: 1},
				Damage: battlelog.DamageTotals{
					VsMonsters: map[string]int{battlelog.BucketHP: 40},
					VsPlayers:  map[string]int{battlelog.BucketCritical: 15},
				},
				Loot: battlelog.ParticipantLoot{
					Resources: []battlelog.LootItem{{Name: "Metals", Qty: 3}},
				},
				Intervened: battlelog.Intervention{State: battlelog.IntervenedNone},
			},
			{
				Login:      "bob",
				Side:       1,
				Level:      9,
				Survived:   false,
				Intervened: battlelog.Intervention{State: battlelog.IntervenedEscaped, Turn: &escapeTurn},
			},
		},
		Monsters: []battlelog.MonsterAggregate{
			{Kind: "Rat", Spec: "Rat", Side: 1, Count: 2, MinLevel: 3, MaxLevel: 4},
		},
		Loot: []battlelog.LootEntry{
			{Kind: battlelog.LootResource, Name: "Metals", Qty: 3, Pickups: 1},
			{Kind: battlelog.LootMonsterPart, Name: "Rat tail", Qty: 1, Pickups: 1},
		},
		MapPatch: battlelog.MapPatch{ID: "0123456789abcdef", Checksum: "deadbeef"},
	}
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()

	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func TestNewBattleRepository(t *testing.T) {
	repository := NewBattleRepository(&gorm.DB{})
	assert.NotNil(t, repository)
}

func TestUpsertBattleIsIdempotent(t *testing.T) {
	db, cleanup := testutil.NewTestConnection(t)
	defer cleanup()

	repository := NewBattleRepository(db)
	ctx := context.Background()
	rec := sampleRecord(1, fixedDate)

	firstID, err := repository.UpsertBattle(ctx, rec)
	require.NoError(t, err)
	first, err := repository.GetBattle(ctx, 1)
	require.NoError(t, err)

	secondID, err := repository.UpsertBattle(ctx, rec)
	require.NoError(t, err)
	second, err := repository.GetBattle(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, firstID, secondID)

	tables := []struct {
		name  string
		model any
		want  int64
	}{
		{name: "battles", model: &models.Battle{}, want: 1},
		{name: "participants", model: &models.BattleParticipant{}, want: 2},
		{name: "monsters", model: &models.BattleMonster{}, want: 1},
		{name: "loot", model: &models.BattleLoot{}, want: 2},
		{name: "players", model: &models.Player{}, want: 2},
		{name: "clans", model: &models.Clan{}, want: 1},
		{name: "kinds", model: &models.MonsterKind{}, want: 1},
		{name: "resources", model: &models.ResourceName{}, want: 1},
		{name: "parts", model: &models.MonsterPartName{}, want: 1},
	}
	for _, tt := range tables {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, countRows(t, db, tt.model))
		})
	}

	// Child ids change on replace, the content does not.
	require.Len(t, second.Participants, len(first.Participants))
	for i := range first.Participants {
		a, b := first.Participants[i], second.Participants[i]
		a.ID, b.ID = 0, 0
		assert.Equal(t, a, b)
	}
	assert.Equal(t, first.Ts.UTC(), second.Ts.UTC())
	assert.Equal(t, first.Sha256, second.Sha256)
	assert.Equal(t, first.MapPatch.String(), second.MapPatch.String())
}

func TestUpsertBattleReplacesChildren(t *testing.T) {
	db, cleanup := testutil.NewTestConnection(t)
	defer cleanup()

	repository := NewBattleRepository(db)
	ctx := context.Background()

	rec := sampleRecord(2, fixedDate)
	_, err := repository.UpsertBattle(ctx, rec)
	require.NoError(t, err)

	rec.Participants = rec.Participants[:1]
	rec.Loot = nil
	_, err = repository.UpsertBattle(ctx, rec)
	require.NoError(t, err)

	battle, err := repository.GetBattle(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, battle.Participants, 1)
	assert.Empty(t, battle.Loot)
	assert.Equal(t, 1, battle.ParticipantCount)
	require.NotNil(t, battle.Participants[0].Clan)
	assert.Equal(t, "Wolves", battle.Participants[0].Clan.Name)
}

func TestUpsertBattleKeepsArchiveState(t *testing.T) {
	db, cleanup := testutil.NewTestConnection(t)
	defer cleanup()

	repository := NewBattleRepository(db)
	ctx := context.Background()

	_, err := repository.UpsertBattle(ctx, sampleRecord(3, fixedDate))
	require.NoError(t, err)
	require.NoError(t, repository.MarkArchived(ctx, 3, "/srv/btl/gz/0/3.tzb.gz"))

	_, err = repository.UpsertBattle(ctx, sampleRecord(3, fixedDate))
	require.NoError(t, err)

	battle, err := repository.GetBattle(ctx, 3)
	require.NoError(t, err)
	assert.True(t, battle.Compressed)
	require.NotNil(t, battle.StorageKey)
	assert.Equal(t, "/srv/btl/gz/0/3.tzb.gz", *battle.StorageKey)
}

func TestUpsertBattleErrors(t *testing.T) {
	db, cleanup := testutil.NewTestConnection(t)
	defer cleanup()

	repository := NewBattleRepository(db)

	_, err := repository.UpsertBattle(context.Background(), nil)
	assert.True(t, failures.Is(err, failures.KindValidation))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.Close()

	_, err = repository.UpsertBattle(context.Background(), sampleRecord(4, fixedDate))
	assert.True(t, failures.Is(err, failures.KindStorage))
}

func TestGetBattleNotFound(t *testing.T) {
	db, cleanup := testutil.NewTestConnection(t)
	defer cleanup()

	_, err := NewBattleRepository(db).GetBattle(context.Background(), 404)
	assert.True(t, failures.Is(err, failures.KindNotFound))
}

func TestListBattles(t *testing.T) {
	db, cleanup := testutil.NewTestConnection(t)
	defer cleanup()

	repository := NewBattleRepository(db)
	ctx := context.Background()

	for i := range 5 {
		rec := sampleRecord(int64(10+i), fixedDate.Add(time.Duration(i)*time.Hour))
		if i%2 == 1 {
			rec.Type = "A"
			rec.Participants = rec.Participants[1:]
		}
		_, err := repository.UpsertBattle(ctx, rec)
		require.NoError(t, err)
	}

	from := fixedDate.Add(time.Hour)

	tests := []struct {
		name      string
		filters   *filters.BattleListFilter
		wantIDs   []int64
		wantTotal int64
		wantErr   error
	}{
		{
			name:    "nilfilter",
			wantErr: errors.New(messages.FiltersNotNil),
		},
		{
			name:      "all newest first",
			filters:   &filters.BattleListFilter{Limit: 2},
			wantIDs:   []int64{14, 13},
			wantTotal: 5,
		},
		{
			name:      "second page",
			filters:   &filters.BattleListFilter{Limit: 2, Offset: 2},
			wantIDs:   []int64{12, 11},
			wantTotal: 5,
		},
		{
			name:      "by type",
			filters:   &filters.BattleListFilter{Type: "A", Limit: 10},
			wantIDs:   []int64{13, 11},
			wantTotal: 2,
		},
		{
			name:      "by login",
			filters:   &filters.BattleListFilter{Login: "alice", Limit: 10},
			wantIDs:   []int64{14, 12, 10},
			wantTotal: 3,
		},
		{
			name:      "from",
			filters:   &filters.BattleListFilter{From: &from, Login: "alice", Limit: 10},
			wantIDs:   []int64{14, 12},
			wantTotal: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			battles, total, err := repository.ListBattles(ctx, tt.filters)
			if tt.wantErr != nil {
				assert.EqualError(t, err, tt.wantErr.Error())
				return
			}
			require.NoError(t, err)

			ids := make([]int64, len(battles))
			for i, b := range battles {
				ids[i] = b.BattleID
			}
			assert.Equal(t, tt.wantIDs, ids)
			assert.Equal(t, tt.wantTotal, total)
		})
	}
}

func TestMarkArchivedMissing(t *testing.T) {
	db, cleanup := testutil.NewTestConnection(t)
	defer cleanup()

	err := NewBattleRepository(db).MarkArchived(context.Background(), 99, "x")
	assert.True(t, failures.Is(err, failures.KindNotFound))
}

func TestFindUnprocessedFiles(t *testing.T) {
	db, cleanup := testutil.NewTestConnection(t)
	defer cleanup()

	repository := NewBattleRepository(db)
	ctx := context.Background()

	// sampleRecord stores battle 1 under /srv/btl/raw/0/1.tzb.
	_, err := repository.UpsertBattle(ctx, sampleRecord(1, fixedDate))
	require.NoError(t, err)

	paths := []string{"/srv/btl/raw/0/2.tzb", "/srv/btl/raw/0/1.tzb", "/srv/btl/raw/0/3.tzb"}
	unprocessed, err := repository.FindUnprocessedFiles(ctx, paths)
	require.NoError(t, err)
	assert.Equal(t, []string{"/srv/btl/raw/0/2.tzb", "/srv/btl/raw/0/3.tzb"}, unprocessed)

	// Once archived the raw path is no longer a storage key.
	require.NoError(t, repository.MarkArchived(ctx, 1, "/srv/btl/gz/0/1.tzb.gz"))
	unprocessed, err = repository.FindUnprocessedFiles(ctx, paths)
	require.NoError(t, err)
	assert.Equal(t, paths, unprocessed)

	empty, err := repository.FindUnprocessedFiles(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
