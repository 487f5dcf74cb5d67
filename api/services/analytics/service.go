package analyticsservice

import (
	"context"
	"sort"
	"strings"
	"time"

	"tzlogs/api/cache"
	"tzlogs/api/dto"
	"tzlogs/api/filters"
	repositories "tzlogs/api/repositories/analytics"
	"tzlogs/pkg/botdetect"
	"tzlogs/pkg/failures"
	"tzlogs/pkg/logger"
	"tzlogs/pkg/messages"
)

const (
	// BotExclusionThreshold is the bot probability from which a player is treated as a bot.
	BotExclusionThreshold = 0.70
	EloBase               = 1000
	EloStep               = 10
	EloMinBattles         = 10

	cachePrefix = "analytics:"
)

// ModelSource serves the current bot model.
type ModelSource interface {
	Current() (*botdetect.Model, error)
	Path() string
}

// ModelTrainer fits and publishes a new bot model.
type ModelTrainer interface {
	Train(ctx context.Context, windowDays int) (*botdetect.Model, error)
}

// AnalyticsService answers the windowed analytics queries.
type AnalyticsService struct {
	repo          repositories.AnalyticsRepository
	models        ModelSource
	trainer       ModelTrainer
	cache         *cache.Tiered
	logger        *logger.NewLogger
	defaultWindow int
	now           func() time.Time
}

// AnalyticsServiceDeps is the dependency list for the analytics service.
type AnalyticsServiceDeps struct {
	Repository    repositories.AnalyticsRepository
	Models        ModelSource
	Trainer       ModelTrainer
	Cache         *cache.Tiered
	Logger        *logger.NewLogger
	DefaultWindow int
	Now           func() time.Time
}

// NewAnalyticsService creates an analytics service.
func NewAnalyticsService(deps AnalyticsServiceDeps) *AnalyticsService {
	s := &AnalyticsService{
		repo:          deps.Repository,
		models:        deps.Models,
		trainer:       deps.Trainer,
		cache:         deps.Cache,
		logger:        deps.Logger,
		defaultWindow: deps.DefaultWindow,
		now:           deps.Now,
	}
	if s.logger == nil {
		s.logger = logger.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.defaultWindow <= 0 {
		s.defaultWindow = 30
	}
	return s
}

// Filter resolves query parameters into a window ending now.
func (s *AnalyticsService) Filter(params filters.AnalyticsParams) *filters.AnalyticsFilter {
	return filters.NewAnalyticsFilter(params, s.defaultWindow, s.now())
}

func window(f *filters.AnalyticsFilter) dto.Window {
	return dto.Window{Days: f.WindowDays, Since: f.Since, Until: f.Until}
}

// currentModel returns the bot model, or nil when none is usable.
func (s *AnalyticsService) currentModel() *botdetect.Model {
	if s.models == nil {
		return nil
	}
	m, err := s.models.Current()
	if err != nil {
		if failures.Is(err, failures.KindModelMissing) {
			s.logger.Warn(messages.ModelMissing, "path", s.models.Path())
		} else {
			s.logger.Warn("Couldn't load the bot model, using rule-based scoring", "error", err)
		}
		return nil
	}
	return m
}

// windowInputs returns the bot inputs and verdicts of every player active in the window.
func (s *AnalyticsService) windowInputs(ctx context.Context, f *filters.AnalyticsFilter) (map[string]botdetect.PlayerStats, map[string]botdetect.Verdict, *botdetect.Model, error) {
	stats, err := s.repo.PlayerStats(ctx, f.Since, f.WindowDays)
	if err != nil {
		return nil, nil, nil, err
	}

	model := s.currentModel()
	byLogin := make(map[string]botdetect.PlayerStats, len(stats))
	verdicts := make(map[string]botdetect.Verdict, len(stats))
	for _, st := range stats {
		byLogin[st.Login] = st
		verdicts[st.Login] = botdetect.Detect(model, st)
	}
	return byLogin, verdicts, model, nil
}

// PlayerProfile aggregates one player with its time pattern, bot verdict and playstyle.
func (s *AnalyticsService) PlayerProfile(ctx context.Context, f *filters.AnalyticsFilter) (*dto.PlayerProfile, error) {
	return cache.Fetch(ctx, s.cache, f.Key("player"), func(ctx context.Context) (*dto.PlayerProfile, error) {
		row, err := s.repo.PlayerSummary(ctx, f)
		if err != nil {
			return nil, err
		}

		profile := &dto.PlayerProfile{
			Window: window(f),
			Stats:  playerStats(*row, f.PvPWeight),
		}

		st, err := s.repo.PlayerStatsFor(ctx, f.Login, f.Since, f.WindowDays)
		if err != nil {
			return nil, err
		}

		model := s.currentModel()
		verdict := botdetect.Detect(model, *st)
		profile.TimePattern = &st.Time
		profile.Bot = &verdict

		if model != nil {
			cluster, label, confidence := model.Classify(*st)
			profile.Playstyle = &dto.Playstyle{Cluster: cluster, Label: label, Confidence: confidence}
		}

		return profile, nil
	})
}

// Leaderboard ranks the players of the window.
func (s *AnalyticsService) Leaderboard(ctx context.Context, f *filters.AnalyticsFilter) (*dto.ListResponse[dto.PlayerStats], error) {
	return cache.Fetch(ctx, s.cache, f.Key("leaderboard"), func(ctx context.Context) (*dto.ListResponse[dto.PlayerStats], error) {
		rows, err := s.repo.PlayerLeaderboard(ctx, f)
		if err != nil {
			return nil, err
		}

		items := make([]dto.PlayerStats, 0, len(rows))
		for _, row := range rows {
			items = append(items, playerStats(row, f.PvPWeight))
		}
		return &dto.ListResponse[dto.PlayerStats]{Window: window(f), Items: items}, nil
	})
}

// playerStats converts a summary row, deriving the rates.
func playerStats(row repositories.PlayerSummaryRow, pvpWeight float64) dto.PlayerStats {
	kills := float64(row.KillsMonsters + row.KillsPlayers)

	return dto.PlayerStats{
		Login:         row.Login,
		Battles:       row.Battles,
		PvPBattles:    row.PvPBattles,
		PvEBattles:    row.PvEBattles,
		KillsMonsters: row.KillsMonsters,
		KillsPlayers:  row.KillsPlayers,
		SurvivalRate:  ratio(float64(row.Survived), float64(row.Battles)),
		ClutchRate:    ratio(float64(row.Clutches), float64(row.Battles)),
		Efficiency: dto.Efficiency{
			KPM:           ratio(kills, float64(row.Battles)),
			KPT:           ratio(kills, float64(row.Turns)),
			WeightedKills: float64(row.KillsMonsters) + float64(row.KillsPlayers)*pvpWeight,
			PvPWeight:     pvpWeight,
		},
		FirstSeen: row.FirstSeen.UTC(),
		LastSeen:  row.LastSeen.UTC(),
	}
}

// Clans aggregates the clans of the window.
func (s *AnalyticsService) Clans(ctx context.Context, f *filters.AnalyticsFilter) (*dto.ListResponse[dto.ClanStats], error) {
	return cache.Fetch(ctx, s.cache, f.Key("clans"), func(ctx context.Context) (*dto.ListResponse[dto.ClanStats], error) {
		rows, err := s.repo.ClanStats(ctx, f)
		if err != nil {
			return nil, err
		}

		items := make([]dto.ClanStats, 0, len(rows))
		for _, row := range rows {
			items = append(items, dto.ClanStats{
				Clan:         row.Clan,
				Members:      row.Members,
				Battles:      row.Battles,
				Kills:        row.Kills,
				SurvivalRate: ratio(float64(row.Survived), float64(row.Entries)),
			})
		}
		return &dto.ListResponse[dto.ClanStats]{Window: window(f), Items: items}, nil
	})
}

// Monsters aggregates the monster kinds of the window.
func (s *AnalyticsService) Monsters(ctx context.Context, f *filters.AnalyticsFilter) (*dto.ListResponse[dto.MonsterStats], error) {
	return cache.Fetch(ctx, s.cache, f.Key("monsters"), func(ctx context.Context) (*dto.ListResponse[dto.MonsterStats], error) {
		rows, err := s.repo.MonsterStats(ctx, f)
		if err != nil {
			return nil, err
		}

		items := make([]dto.MonsterStats, 0, len(rows))
		for _, row := range rows {
			items = append(items, dto.MonsterStats{
				Kind:         row.Kind,
				Battles:      row.Battles,
				Total:        row.Total,
				AvgPerBattle: ratio(float64(row.Total), float64(row.Battles)),
				MinLevel:     row.MinLevel,
				MaxLevel:     row.MaxLevel,
			})
		}
		return &dto.ListResponse[dto.MonsterStats]{Window: window(f), Items: items}, nil
	})
}

// ResourceEconomy returns the resource loot per day or week.
func (s *AnalyticsService) ResourceEconomy(ctx context.Context, f *filters.AnalyticsFilter) (*dto.ListResponse[dto.ResourceBucket], error) {
	return cache.Fetch(ctx, s.cache, f.Key("economy"), func(ctx context.Context) (*dto.ListResponse[dto.ResourceBucket], error) {
		rows, err := s.repo.ResourceBuckets(ctx, f)
		if err != nil {
			return nil, err
		}

		items := make([]dto.ResourceBucket, 0, len(rows))
		for _, row := range rows {
			items = append(items, dto.ResourceBucket{
				Bucket:   row.Bucket.UTC(),
				Resource: row.Resource,
				Qty:      row.Qty,
				Pickups:  row.Pickups,
				Battles:  row.Battles,
			})
		}
		return &dto.ListResponse[dto.ResourceBucket]{Window: window(f), Items: items}, nil
	})
}

// TopMiners ranks the players picking up a resource. With ExcludeBots, players whose
// bot probability reaches the exclusion threshold are skipped and the list is refilled.
func (s *AnalyticsService) TopMiners(ctx context.Context, f *filters.AnalyticsFilter) (*dto.ListResponse[dto.Miner], error) {
	if f.Resource == "" {
		return nil, failures.Newf(failures.KindValidation, "analytics.TopMiners", "resource is required")
	}

	return cache.Fetch(ctx, s.cache, f.Key("miners"), func(ctx context.Context) (*dto.ListResponse[dto.Miner], error) {
		var verdicts map[string]botdetect.Verdict
		if f.ExcludeBots {
			var err error
			if _, verdicts, _, err = s.windowInputs(ctx, f); err != nil {
				return nil, err
			}
		}

		items := make([]dto.Miner, 0, f.Limit)
		page := *f

		for len(items) < f.Limit {
			rows, err := s.repo.ResourceMiners(ctx, &page)
			if err != nil {
				return nil, err
			}

			for _, row := range rows {
				miner := dto.Miner{Login: row.Login, Qty: row.Qty, Battles: row.Battles}
				if v, ok := verdicts[row.Login]; ok {
					if v.BotProbability >= BotExclusionThreshold {
						continue
					}
					p := v.BotProbability
					miner.BotProbability = &p
				}
				items = append(items, miner)
				if len(items) == f.Limit {
					break
				}
			}

			if len(rows) < page.Limit || !f.ExcludeBots {
				break
			}
			page.Offset += page.Limit
		}

		return &dto.ListResponse[dto.Miner]{Window: window(f), Items: items}, nil
	})
}

// Social lists the allies and rivals of a player.
func (s *AnalyticsService) Social(ctx context.Context, f *filters.AnalyticsFilter) (*dto.Social, error) {
	return cache.Fetch(ctx, s.cache, f.Key("social"), func(ctx context.Context) (*dto.Social, error) {
		allies, err := s.repo.Companions(ctx, f, true)
		if err != nil {
			return nil, err
		}
		rivals, err := s.repo.Companions(ctx, f, false)
		if err != nil {
			return nil, err
		}

		return &dto.Social{
			Login:  f.Login,
			Allies: companions(allies),
			Rivals: companions(rivals),
		}, nil
	})
}

func companions(rows []repositories.CompanionRow) []dto.Companion {
	out := make([]dto.Companion, 0, len(rows))
	for _, row := range rows {
		out = append(out, dto.Companion{Login: row.Login, Battles: row.Battles})
	}
	return out
}

// ClanMatrix counts the engagements between clans.
func (s *AnalyticsService) ClanMatrix(ctx context.Context, f *filters.AnalyticsFilter) (*dto.ListResponse[dto.ClanEngagement], error) {
	return cache.Fetch(ctx, s.cache, f.Key("clan_matrix"), func(ctx context.Context) (*dto.ListResponse[dto.ClanEngagement], error) {
		rows, err := s.repo.ClanMatrix(ctx, f)
		if err != nil {
			return nil, err
		}

		items := make([]dto.ClanEngagement, 0, len(rows))
		for _, row := range rows {
			items = append(items, dto.ClanEngagement{ClanA: row.ClanA, ClanB: row.ClanB, Battles: row.Battles})
		}
		return &dto.ListResponse[dto.ClanEngagement]{Window: window(f), Items: items}, nil
	})
}

// Heatmap counts the battles per tile.
func (s *AnalyticsService) Heatmap(ctx context.Context, f *filters.AnalyticsFilter) (*dto.ListResponse[dto.Tile], error) {
	return cache.Fetch(ctx, s.cache, f.Key("heatmap"), func(ctx context.Context) (*dto.ListResponse[dto.Tile], error) {
		rows, err := s.repo.Heatmap(ctx, f)
		if err != nil {
			return nil, err
		}
		return &dto.ListResponse[dto.Tile]{Window: window(f), Items: tiles(rows)}, nil
	})
}

// Hotspots ranks the tiles by PvP share.
func (s *AnalyticsService) Hotspots(ctx context.Context, f *filters.AnalyticsFilter) (*dto.ListResponse[dto.Tile], error) {
	return cache.Fetch(ctx, s.cache, f.Key("hotspots"), func(ctx context.Context) (*dto.ListResponse[dto.Tile], error) {
		rows, err := s.repo.PvPHotspots(ctx, f)
		if err != nil {
			return nil, err
		}
		return &dto.ListResponse[dto.Tile]{Window: window(f), Items: tiles(rows)}, nil
	})
}

func tiles(rows []repositories.TileRow) []dto.Tile {
	out := make([]dto.Tile, 0, len(rows))
	for _, row := range rows {
		out = append(out, dto.Tile{
			X:          row.X,
			Y:          row.Y,
			Battles:    row.Battles,
			PvPBattles: row.PvPBattles,
			PvPRatio:   ratio(float64(row.PvPBattles), float64(row.Battles)),
		})
	}
	return out
}

// ClanControl returns the leading clan of every tile.
func (s *AnalyticsService) ClanControl(ctx context.Context, f *filters.AnalyticsFilter) (*dto.ListResponse[dto.ClanTile], error) {
	return cache.Fetch(ctx, s.cache, f.Key("clan_control"), func(ctx context.Context) (*dto.ListResponse[dto.ClanTile], error) {
		rows, err := s.repo.ClanControl(ctx, f)
		if err != nil {
			return nil, err
		}

		items := make([]dto.ClanTile, 0, len(rows))
		for _, row := range rows {
			items = append(items, dto.ClanTile{X: row.X, Y: row.Y, Clan: row.Clan, Battles: row.Battles})
		}
		return &dto.ListResponse[dto.ClanTile]{Window: window(f), Items: items}, nil
	})
}

// Elo ranks the players of a pool. Players under the minimum battle count are left out.
func (s *AnalyticsService) Elo(ctx context.Context, f *filters.AnalyticsFilter) (*dto.ListResponse[dto.EloEntry], error) {
	return cache.Fetch(ctx, s.cache, f.Key("elo"), func(ctx context.Context) (*dto.ListResponse[dto.EloEntry], error) {
		rows, err := s.repo.EloPool(ctx, f, EloMinBattles)
		if err != nil {
			return nil, err
		}

		items := make([]dto.EloEntry, 0, len(rows))
		for i, row := range rows {
			losses := row.Battles - row.Wins
			items = append(items, dto.EloEntry{
				Rank:    f.Offset + i + 1,
				Login:   row.Login,
				Elo:     Elo(row.Wins, losses),
				Battles: row.Battles,
				Wins:    row.Wins,
				Losses:  losses,
			})
		}
		return &dto.ListResponse[dto.EloEntry]{Window: window(f), Items: items}, nil
	})
}

// Elo is the rating of a win and loss record.
func Elo(wins, losses int) int {
	return EloBase + (wins-losses)*EloStep
}

// Churn ranks the players at risk of leaving by churn times player value.
// A player treated as a bot is worth nothing.
func (s *AnalyticsService) Churn(ctx context.Context, f *filters.AnalyticsFilter) (*dto.ListResponse[dto.ChurnEntry], error) {
	return cache.Fetch(ctx, s.cache, f.Key("churn"), func(ctx context.Context) (*dto.ListResponse[dto.ChurnEntry], error) {
		rows, err := s.repo.ChurnCounts(ctx, f)
		if err != nil {
			return nil, err
		}
		stats, verdicts, model, err := s.windowInputs(ctx, f)
		if err != nil {
			return nil, err
		}

		entries := make([]dto.ChurnEntry, 0, len(rows))
		for _, row := range rows {
			entry := dto.ChurnEntry{
				Login:      row.Login,
				FirstHalf:  row.FirstHalf,
				SecondHalf: row.SecondHalf,
				Churn:      ChurnScore(row.FirstHalf, row.SecondHalf),
			}

			if st, ok := stats[row.Login]; ok && model != nil {
				_, entry.Label, _ = model.Classify(st)
			}
			entry.PlayerValue = botdetect.PlayerValue(entry.Label)
			if v, ok := verdicts[row.Login]; ok && v.BotProbability >= BotExclusionThreshold {
				entry.PlayerValue = 0
			}
			entry.Priority = entry.Churn * entry.PlayerValue

			entries = append(entries, entry)
		}

		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].Priority != entries[j].Priority {
				return entries[i].Priority > entries[j].Priority
			}
			return entries[i].Login < entries[j].Login
		})

		return &dto.ListResponse[dto.ChurnEntry]{Window: window(f), Items: paginate(entries, f.Offset, f.Limit)}, nil
	})
}

// ChurnScore is 1 - second half / first half, kept in [0, 1].
func ChurnScore(firstHalf, secondHalf int) float64 {
	if firstHalf <= 0 {
		return 0
	}
	return clamp01(1 - float64(secondHalf)/float64(firstHalf))
}

// BotScan ranks the players of the window by bot probability.
func (s *AnalyticsService) BotScan(ctx context.Context, f *filters.AnalyticsFilter) (*dto.BotScan, error) {
	return cache.Fetch(ctx, s.cache, f.Key("bots"), func(ctx context.Context) (*dto.BotScan, error) {
		_, verdicts, model, err := s.windowInputs(ctx, f)
		if err != nil {
			return nil, err
		}

		scan := &dto.BotScan{
			Window:       window(f),
			ModelMissing: model == nil,
			Scanned:      len(verdicts),
		}
		if model == nil {
			scan.Message = messages.ModelMissing
		}

		all := make([]botdetect.Verdict, 0, len(verdicts))
		for _, v := range verdicts {
			if v.IsBot {
				scan.Flagged++
			}
			if v.BotProbability >= f.MinProbability {
				all = append(all, v)
			}
		}
		sort.Slice(all, func(i, j int) bool {
			if all[i].BotProbability != all[j].BotProbability {
				return all[i].BotProbability > all[j].BotProbability
			}
			return all[i].Login < all[j].Login
		})

		scan.Verdicts = paginate(all, f.Offset, f.Limit)
		return scan, nil
	})
}

// TrainModel fits a new bot model on the window and drops the cached answers.
func (s *AnalyticsService) TrainModel(ctx context.Context, windowDays int) (*dto.TrainResult, error) {
	if s.trainer == nil {
		return nil, failures.Newf(failures.KindInternal, "analytics.TrainModel", "no trainer configured")
	}
	if windowDays <= 0 {
		windowDays = s.defaultWindow
	}

	model, err := s.trainer.Train(ctx, windowDays)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Invalidate(ctx, cachePrefix); err != nil {
		s.logger.Warnf("Couldn't invalidate the analytics cache: %v", err)
	}

	s.logger.Info("Trained bot model",
		"players", model.Meta.Players,
		"clusters", model.Meta.Clusters,
		"window_days", model.Meta.WindowDays,
	)

	path := ""
	if s.models != nil {
		path = s.models.Path()
	}

	return &dto.TrainResult{
		Version:    model.Meta.Version,
		TrainedAt:  model.Meta.TrainedAt,
		Players:    model.Meta.Players,
		WindowDays: model.Meta.WindowDays,
		Clusters:   model.Meta.Clusters,
		Path:       path,
	}, nil
}

// NormalizeLogin trims a login taken from a path.
func NormalizeLogin(login string) (string, error) {
	login = strings.TrimSpace(login)
	if login == "" {
		return "", failures.Newf(failures.KindValidation, "analytics", "login is required")
	}
	return login, nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := min(offset+limit, len(items))
	return items[offset:end]
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}
