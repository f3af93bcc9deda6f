// Package scheduler implements the Scheduled Task table (C8): on start it
// loads the persisted task list and schedules each enabled row in the
// Berlin timezone after validating its cron expression, invalid
// expressions reject the schedule but retain the task, disabled. A firing
// task executes through a switch on kind against the supervisor and backup
// ports; overlap is prevented per task id, and every execution (success or
// failure) is appended to a capacity-100, newest-first, in-memory ring.
package scheduler
