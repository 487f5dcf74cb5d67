package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tzlogs/api/filters"
	"tzlogs/pkg/battlelog"
	"tzlogs/pkg/database/models"
	"tzlogs/pkg/failures"
	"tzlogs/pkg/messages"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	upsertSavepoint = "battle_upsert"
	insertBatchSize = 200

	// Paths per storage_key lookup.
	storageKeyChunk = 1000
)

// BattleRepository is the public interface for accessing the battle store.
type BattleRepository interface {
	UpsertBattle(ctx context.Context, rec *battlelog.Record) (uint64, error)
	GetBattle(ctx context.Context, battleID int64) (*models.Battle, error)
	ListBattles(ctx context.Context, filters *filters.BattleListFilter) ([]models.Battle, int64, error)
	MarkArchived(ctx context.Context, battleID int64, storageKey string) error
	FindUnprocessedFiles(ctx context.Context, paths []string) ([]string, error)
}

// battleRepository repository structure.
type battleRepository struct {
	db *gorm.DB
}

// NewBattleRepository creates a battle repository.
func NewBattleRepository(db *gorm.DB) BattleRepository {
	return &battleRepository{db: db}
}

// UpsertBattle stores a parsed battle and returns its internal id.
// The battle row is upserted on battle_id and every child row is replaced, so storing
// the same record twice leaves the same state as storing it once.
// A failed write is retried once from a savepoint inside the same transaction.
func (br *battleRepository) UpsertBattle(ctx context.Context, rec *battlelog.Record) (uint64, error) {
	if rec == nil {
		return 0, failures.Newf(failures.KindValidation, "battle.Upsert", "record can't be nil")
	}

	var internalID uint64
	err := br.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.SavePoint(upsertSavepoint).Error; err != nil {
			return err
		}

		id, err := writeBattle(tx, rec)
		if err != nil {
			// Retry once from the savepoint.
			if rbErr := tx.RollbackTo(upsertSavepoint).Error; rbErr != nil {
				return fmt.Errorf("couldn't rollback to savepoint: %w", rbErr)
			}
			id, err = writeBattle(tx, rec)
			if err != nil {
				return err
			}
		}

		internalID = id
		return nil
	})
	if err != nil {
		return 0, failures.Wrap(failures.KindStorage, "battle.Upsert", fmt.Errorf("couldn't store battle %d: %w", rec.BattleID, err))
	}

	return internalID, nil
}

// writeBattle performs the whole write of one record on the given transaction.
func writeBattle(tx *gorm.DB, rec *battlelog.Record) (uint64, error) {
	battle, err := battleRow(rec)
	if err != nil {
		return 0, err
	}

	// Archive state is owned by MarkArchived and survives reprocessing.
	err = tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "battle_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"ts", "duration_turns", "battle_type", "loc_x", "loc_y", "start_time",
			"participant_count", "monster_count", "size_bytes", "sha256", "raw", "map_patch", "updated_at",
		}),
	}).Create(battle).Error
	if err != nil {
		return 0, fmt.Errorf("couldn't upsert the battle row: %w", err)
	}

	var internalID uint64
	if err := tx.Model(&models.Battle{}).Where("battle_id = ?", rec.BattleID).Pluck("id", &internalID).Error; err != nil {
		return 0, fmt.Errorf("couldn't get the battle internal id: %w", err)
	}

	// Replace the children.
	for _, child := range []any{&models.BattleParticipant{}, &models.BattleMonster{}, &models.BattleLoot{}} {
		if err := tx.Where("battle_internal_id = ?", internalID).Delete(child).Error; err != nil {
			return 0, fmt.Errorf("couldn't clear the battle children: %w", err)
		}
	}

	if err := insertParticipants(tx, internalID, rec.Participants); err != nil {
		return 0, err
	}
	if err := insertMonsters(tx, internalID, rec.Monsters); err != nil {
		return 0, err
	}
	if err := insertLoot(tx, internalID, rec.Loot); err != nil {
		return 0, err
	}

	return internalID, nil
}

// battleRow converts the record header into the battle model.
func battleRow(rec *battlelog.Record) (*models.Battle, error) {
	header, err := json.Marshal(rec.Header)
	if err != nil {
		return nil, err
	}
	mapPatch, err := json.Marshal(rec.MapPatch)
	if err != nil {
		return nil, err
	}

	battle := &models.Battle{
		BattleID:         rec.BattleID,
		Ts:               rec.Timestamp.UTC(),
		DurationTurns:    rec.Turns,
		BattleType:       rec.Type,
		LocX:             rec.Location.X,
		LocY:             rec.Location.Y,
		StartTime:        rec.StartTime,
		ParticipantCount: len(rec.Participants),
		MonsterCount:     rec.MonsterCount(),
		SizeBytes:        int64(rec.SizeBytes),
		Sha256:           rec.SHA256,
		Raw:              datatypes.JSON(header),
		MapPatch:         datatypes.JSON(mapPatch),
	}
	if rec.SourcePath != "" {
		path := rec.SourcePath
		battle.StorageKey = &path
	}

	return battle, nil
}

func insertParticipants(tx *gorm.DB, internalID uint64, participants []battlelog.Participant) error {
	if len(participants) == 0 {
		return nil
	}

	logins := make([]string, 0, len(participants))
	var clans []string
	for _, p := range participants {
		logins = append(logins, p.Login)
		if p.Clan != "" {
			clans = append(clans, p.Clan)
		}
	}

	playerIDs, err := ensurePlayers(tx, logins)
	if err != nil {
		return err
	}
	clanIDs, err := ensureClans(tx, clans)
	if err != nil {
		return err
	}

	rows := make([]models.BattleParticipant, 0, len(participants))
	for _, p := range participants {
		vsMonsters, err := json.Marshal(p.Damage.VsMonsters)
		if err != nil {
			return err
		}
		vsPlayers, err := json.Marshal(p.Damage.VsPlayers)
		if err != nil {
			return err
		}
		loot, err := json.Marshal(p.Loot)
		if err != nil {
			return err
		}

		row := models.BattleParticipant{
			BattleInternalID: internalID,
			PlayerID:         playerIDs[p.Login],
			Login:            p.Login,
			Side:             p.Side,
			Profession:       p.Profession,
			Gender:           p.Gender,
			Level:            p.Level,
			Survived:         p.Survived,
			RankPoints:       p.RankPoints,
			PvePoints:        p.PvePoints,
			KillsMonsters:    p.Kills.Monsters,
			KillsPlayers:     p.Kills.Players,
			DamageVsMonsters: datatypes.JSON(vsMonsters),
			DamageVsPlayers:  datatypes.JSON(vsPlayers),
			Loot:             datatypes.JSON(loot),
			IntervenedState:  p.Intervened.State,
			IntervenedTurn:   p.Intervened.Turn,
		}
		if row.IntervenedState == "" {
			row.IntervenedState = battlelog.IntervenedNone
		}
		if id, ok := clanIDs[p.Clan]; ok {
			row.ClanID = &id
		}
		rows = append(rows, row)
	}

	if err := tx.CreateInBatches(&rows, insertBatchSize).Error; err != nil {
		return fmt.Errorf("couldn't insert the participants: %w", err)
	}
	return nil
}

func insertMonsters(tx *gorm.DB, internalID uint64, monsters []battlelog.MonsterAggregate) error {
	if len(monsters) == 0 {
		return nil
	}

	kinds := make([]string, 0, len(monsters))
	for _, m := range monsters {
		kinds = append(kinds, m.Kind)
	}
	kindIDs, err := ensureNames[models.MonsterKind](tx, kinds, func(name string) models.MonsterKind {
		return models.MonsterKind{Name: name}
	}, func(k models.MonsterKind) (string, uint64) {
		return k.Name, k.ID
	})
	if err != nil {
		return err
	}

	rows := make([]models.BattleMonster, 0, len(monsters))
	for _, m := range monsters {
		rows = append(rows, models.BattleMonster{
			BattleInternalID: internalID,
			KindID:           kindIDs[m.Kind],
			Spec:             m.Spec,
			Side:             m.Side,
			Count:            m.Count,
			MinLevel:         m.MinLevel,
			MaxLevel:         m.MaxLevel,
		})
	}

	if err := tx.CreateInBatches(&rows, insertBatchSize).Error; err != nil {
		return fmt.Errorf("couldn't insert the monsters: %w", err)
	}
	return nil
}

func insertLoot(tx *gorm.DB, internalID uint64, loot []battlelog.LootEntry) error {
	if len(loot) == 0 {
		return nil
	}

	var resources, parts []string
	for _, l := range loot {
		switch l.Kind {
		case battlelog.LootResource:
			resources = append(resources, l.Name)
		case battlelog.LootMonsterPart:
			parts = append(parts, l.Name)
		}
	}

	resourceIDs, err := ensureNames[models.ResourceName](tx, resources, func(name string) models.ResourceName {
		return models.ResourceName{Name: name}
	}, func(r models.ResourceName) (string, uint64) {
		return r.Name, r.ID
	})
	if err != nil {
		return err
	}
	partIDs, err := ensureNames[models.MonsterPartName](tx, parts, func(name string) models.MonsterPartName {
		return models.MonsterPartName{Name: name}
	}, func(p models.MonsterPartName) (string, uint64) {
		return p.Name, p.ID
	})
	if err != nil {
		return err
	}

	rows := make([]models.BattleLoot, 0, len(loot))
	for _, l := range loot {
		row := models.BattleLoot{
			BattleInternalID: internalID,
			Kind:             string(l.Kind),
			Name:             l.Name,
			Qty:              l.Qty,
			Pickups:          l.Pickups,
			OnMap:            l.OnMap,
		}
		if id, ok := resourceIDs[l.Name]; ok && l.Kind == battlelog.LootResource {
			row.ResourceID = &id
		}
		if id, ok := partIDs[l.Name]; ok && l.Kind == battlelog.LootMonsterPart {
			row.PartID = &id
		}
		rows = append(rows, row)
	}

	if err := tx.CreateInBatches(&rows, insertBatchSize).Error; err != nil {
		return fmt.Errorf("couldn't insert the loot: %w", err)
	}
	return nil
}

func ensurePlayers(tx *gorm.DB, logins []string) (map[string]uint64, error) {
	ids := make(map[string]uint64, len(logins))
	logins = unique(logins)
	if len(logins) == 0 {
		return ids, nil
	}

	players := make([]models.Player, len(logins))
	for i, login := range logins {
		players[i] = models.Player{Login: login}
	}
	if err := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "login"}}, DoNothing: true}).Create(&players).Error; err != nil {
		return nil, fmt.Errorf("couldn't create the players: %w", err)
	}

	var found []models.Player
	if err := tx.Where("login IN ?", logins).Find(&found).Error; err != nil {
		return nil, fmt.Errorf("couldn't get the players: %w", err)
	}
	for _, p := range found {
		ids[p.Login] = p.ID
	}
	return ids, nil
}

func ensureClans(tx *gorm.DB, names []string) (map[string]uint64, error) {
	ids := make(map[string]uint64, len(names))
	names = unique(names)
	if len(names) == 0 {
		return ids, nil
	}

	clans := make([]models.Clan, len(names))
	for i, name := range names {
		clans[i] = models.Clan{Name: name}
	}
	if err := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).Create(&clans).Error; err != nil {
		return nil, fmt.Errorf("couldn't create the clans: %w", err)
	}

	var found []models.Clan
	if err := tx.Where("name IN ?", names).Find(&found).Error; err != nil {
		return nil, fmt.Errorf("couldn't get the clans: %w", err)
	}
	for _, c := range found {
		ids[c.Name] = c.ID
	}
	return ids, nil
}

// ensureNames gets or creates the lookup rows of a name keyed table.
func ensureNames[T any](tx *gorm.DB, names []string, build func(string) T, key func(T) (string, uint64)) (map[string]uint64, error) {
	ids := make(map[string]uint64, len(names))
	names = unique(names)
	if len(names) == 0 {
		return ids, nil
	}

	rows := make([]T, len(names))
	for i, name := range names {
		rows[i] = build(name)
	}
	if err := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).Create(&rows).Error; err != nil {
		return nil, fmt.Errorf("couldn't create the lookup names: %w", err)
	}

	var found []T
	if err := tx.Where("name IN ?", names).Find(&found).Error; err != nil {
		return nil, fmt.Errorf("couldn't get the lookup names: %w", err)
	}
	for _, row := range found {
		name, id := key(row)
		ids[name] = id
	}
	return ids, nil
}

func unique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// GetBattle returns a stored battle with its children.
func (br *battleRepository) GetBattle(ctx context.Context, battleID int64) (*models.Battle, error) {
	var battle models.Battle
	err := br.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB { return db.Order("side, login") }).
		Preload("Participants.Clan").
		Preload("Monsters", func(db *gorm.DB) *gorm.DB { return db.Order("side, spec") }).
		Preload("Monsters.Kind").
		Preload("Loot", func(db *gorm.DB) *gorm.DB { return db.Order("kind, name") }).
		Where("battle_id = ?", battleID).
		First(&battle).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, failures.Newf(failures.KindNotFound, "battle.Get", "battle %d not found", battleID)
		}
		return nil, failures.Wrap(failures.KindStorage, "battle.Get", err)
	}

	return &battle, nil
}

// ListBattles returns a page of battles, newest first, and the total matching count.
func (br *battleRepository) ListBattles(ctx context.Context, filters *filters.BattleListFilter) ([]models.Battle, int64, error) {
	if filters == nil {
		return nil, 0, errors.New(messages.FiltersNotNil)
	}

	scope := func(db *gorm.DB) *gorm.DB {
		// Add the filters only if the respective value was passed.
		if filters.Login != "" {
			db = db.Where("EXISTS (SELECT 1 FROM battle_participants bp WHERE bp.battle_internal_id = battles.id AND bp.login = ?)", filters.Login)
		}
		if filters.Type != "" {
			db = db.Where("battle_type = ?", filters.Type)
		}
		if filters.From != nil {
			db = db.Where("ts >= ?", *filters.From)
		}
		if filters.To != nil {
			db = db.Where("ts < ?", *filters.To)
		}
		return db
	}

	var total int64
	if err := br.db.WithContext(ctx).Model(&models.Battle{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, failures.Wrap(failures.KindStorage, "battle.List", err)
	}

	var battles []models.Battle
	err := br.db.WithContext(ctx).
		Scopes(scope).
		Omit("raw", "map_patch").
		Order("ts DESC, battle_id DESC").
		Limit(filters.Limit).
		Offset(filters.Offset).
		Find(&battles).Error
	if err != nil {
		return nil, 0, failures.Wrap(failures.KindStorage, "battle.List", err)
	}

	return battles, total, nil
}

// MarkArchived points the battle at its compressed copy.
func (br *battleRepository) MarkArchived(ctx context.Context, battleID int64, storageKey string) error {
	result := br.db.WithContext(ctx).
		Model(&models.Battle{}).
		Where("battle_id = ?", battleID).
		Updates(map[string]any{"storage_key": storageKey, "compressed": true})
	if result.Error != nil {
		return failures.Wrap(failures.KindStorage, "battle.MarkArchived", result.Error)
	}
	if result.RowsAffected == 0 {
		return failures.Newf(failures.KindNotFound, "battle.MarkArchived", "battle %d not found", battleID)
	}
	return nil
}

// FindUnprocessedFiles returns the paths no battle was stored from, in their original order.
func (br *battleRepository) FindUnprocessedFiles(ctx context.Context, paths []string) ([]string, error) {
	stored := make(map[string]struct{}, len(paths))

	for start := 0; start < len(paths); start += storageKeyChunk {
		end := min(start+storageKeyChunk, len(paths))

		var keys []string
		err := br.db.WithContext(ctx).
			Model(&models.Battle{}).
			Where("storage_key IN ?", paths[start:end]).
			Pluck("storage_key", &keys).Error
		if err != nil {
			return nil, failures.Wrap(failures.KindStorage, "battle.FindUnprocessedFiles", fmt.Errorf("couldn't look up storage keys: %w", err))
		}

		for _, key := range keys {
			stored[key] = struct{}{}
		}
	}

	unprocessed := make([]string, 0, len(paths))
	for _, path := range paths {
		if _, ok := stored[path]; !ok {
			unprocessed = append(unprocessed, path)
		}
	}
	return unprocessed, nil
}
