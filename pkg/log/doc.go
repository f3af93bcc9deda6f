/*
Package log provides structured logging for fleetmc using zerolog.

It wraps zerolog to give every component a JSON-or-console logger carrying
fixed context fields, so supervisor, scheduler, sampler, probe, and notifier
logs can be filtered and correlated by instance or task without repeating
field boilerplate at each call site.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	schedulerLog := log.WithComponent("scheduler")
	schedulerLog.Info().Str("task_id", taskID).Msg("task fired")

	instLog := log.With(map[string]string{"component": "sampler", "instance_id": instance.ID})
	instLog.Warn().Msg("TPS below threshold")

# Levels

Background operations (cron firing, stdout scanning, probe ticks, webhook
POSTs) log at Warn/Error and swallow the error rather than propagate it.
log.Fatal is reserved for conditions that make it unsafe to continue
serving at all, such as a corrupted registry catalog at startup.
*/
package log
