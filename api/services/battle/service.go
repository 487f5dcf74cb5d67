package battleservice

import (
	"context"
	"strconv"

	"tzlogs/api/cache"
	"tzlogs/api/dto"
	"tzlogs/api/filters"
	"tzlogs/pkg/database/models"
)

const battleKey = "battle:"

// BattleReader is the read side of the battle repository.
type BattleReader interface {
	GetBattle(ctx context.Context, battleID int64) (*models.Battle, error)
	ListBattles(ctx context.Context, filters *filters.BattleListFilter) ([]models.Battle, int64, error)
}

// BattleService serves stored battles.
type BattleService struct {
	battles BattleReader
	cache   *cache.Tiered
}

// BattleServiceDeps is the dependency list for the battle service.
type BattleServiceDeps struct {
	Battles BattleReader
	Cache   *cache.Tiered
}

// NewBattleService creates a battle service.
func NewBattleService(deps BattleServiceDeps) *BattleService {
	return &BattleService{battles: deps.Battles, cache: deps.Cache}
}

// GetBattle returns one battle with its participants, monsters and loot.
func (bs *BattleService) GetBattle(ctx context.Context, battleID int64) (*dto.BattleDetail, error) {
	return cache.Fetch(ctx, bs.cache, battleKey+strconv.FormatInt(battleID, 10), func(ctx context.Context) (*dto.BattleDetail, error) {
		battle, err := bs.battles.GetBattle(ctx, battleID)
		if err != nil {
			return nil, err
		}
		return dto.NewBattleDetail(battle), nil
	})
}

// ListBattles returns a page of battles. Listings skip the cache.
func (bs *BattleService) ListBattles(ctx context.Context, filters *filters.BattleListFilter) (*dto.BattleList, error) {
	battles, total, err := bs.battles.ListBattles(ctx, filters)
	if err != nil {
		return nil, err
	}

	list := &dto.BattleList{Total: total, Battles: make([]dto.BattleSummary, 0, len(battles))}
	for i := range battles {
		list.Battles = append(list.Battles, dto.NewBattleSummary(&battles[i]))
	}
	return list, nil
}
