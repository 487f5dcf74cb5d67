package modules

import (
	"tzlogs/api/handlers"
	battlerepository "tzlogs/api/repositories/battle"
	ingestservice "tzlogs/api/services/ingest"
)

func initializeIngestHandler(deps *ModuleDependencies) *handlers.IngestHandler {
	ingestService := ingestservice.NewIngestService(ingestservice.IngestServiceDeps{
		Layout:   deps.Layout,
		Battles:  battlerepository.NewBattleRepository(deps.DB),
		Archiver: deps.Archiver,
		Cache:    deps.Cache,
		Logger:   deps.Logger.With("service", "ingest"),
	})

	return handlers.NewIngestHandler(&handlers.IngestHandlerDependencies{
		IngestService: ingestService,
		Logger:        deps.Logger,
	})
}
