// Package notifier implements the Notifier Port (C10): a sink on the
// instance-events topic that dispatches a Discord embed or a generic JSON
// envelope to every enabled Webhook Subscription whose event set matches
// the observed kind. Delivery is best-effort; a failed POST is logged and
// never propagated back to the supervisor.
package notifier
