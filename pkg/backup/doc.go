// Package backup implements the Backup Port (C11): zip-archiving an
// instance's workspace to <backups>/<instanceId>/<name>-<epoch>.zip at
// maximum compression, skipping logs/, crash-reports/, and debug/, and
// restoring a prior archive through a staging directory so a failed
// restore never disturbs the live workspace.
package backup
