package app

import (
	"github.com/airpulse/airpulse/internal/airquality"
	"github.com/airpulse/airpulse/internal/config"
	"github.com/airpulse/airpulse/internal/worker"
)

// RefreshConfig maps the worker settings onto a refresh job config. Custom
// synthetic locations replace the built-in refresh targets.
func RefreshConfig(cfg config.Config) worker.RefreshConfig {
	rc := worker.DefaultRefreshConfig()
	rc.Concurrency = cfg.Worker.Concurrency
	rc.ForecastHours = cfg.Worker.ForecastHours
	rc.HistoryRetention = cfg.History.Retention

	if locations := cfg.ReferenceLocations(); len(locations) > 0 {
		rc.Targets = make([]worker.RefreshTarget, 0, len(locations))
		for _, loc := range locations {
			rc.Targets = append(rc.Targets, worker.RefreshTarget{
				Name:     loc.Name,
				Points:   []airquality.Coordinate{loc.Coordinate},
				Priority: 1,
			})
		}
	}
	return rc
}
