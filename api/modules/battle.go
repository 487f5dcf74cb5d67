package modules

import (
	"tzlogs/api/handlers"
	battlerepository "tzlogs/api/repositories/battle"
	battleservice "tzlogs/api/services/battle"
)

func initializeBattleHandler(deps *ModuleDependencies) *handlers.BattleHandler {
	battleService := battleservice.NewBattleService(battleservice.BattleServiceDeps{
		Battles: battlerepository.NewBattleRepository(deps.DB),
		Cache:   deps.Cache,
	})

	return handlers.NewBattleHandler(&handlers.BattleHandlerDependencies{
		BattleService: battleService,
	})
}
