package indexer

import (
	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"
)

// startAutosave schedules periodic persistence of edits made by the reactor.
func (e *Engine) startAutosave() {
	schedule := e.cfg.Storage.Autosave
	if schedule == "" {
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, e.autosave); err != nil {
		log.Warn("Invalid autosave schedule, autosave disabled", "schedule", schedule, "error", err)
		return
	}
	e.scheduler = c
	c.Start()
}

// autosave persists unsaved changes unless a bulk run is active; runs
// persist on their own when they finish.
func (e *Engine) autosave() {
	if !e.dirty.Load() || e.running.Load() {
		return
	}
	if err := e.persist(); err == nil {
		log.Debug("Autosaved index", "path", e.storePath)
	}
}
