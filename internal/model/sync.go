package model

// SyncStatus tells the client whether records come from the remote store
// or the on-device fallback. Display only.
type SyncStatus string

const (
	SyncConnected    SyncStatus = "connected"
	SyncSyncing      SyncStatus = "syncing"
	SyncError        SyncStatus = "error"
	SyncDisconnected SyncStatus = "disconnected"
	SyncOffline      SyncStatus = "offline"
)
