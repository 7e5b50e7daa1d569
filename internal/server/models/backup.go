package models

// BackupAction is the direction of a backup session.
type BackupAction string

const (
	ActionBackup  BackupAction = "backup"
	ActionRestore BackupAction = "restore"
)

// BackupState is the session state.
type BackupState string

const (
	BackupIdle       BackupState = "idle"
	BackupInProgress BackupState = "in_progress"
	BackupSuccess    BackupState = "success"
	BackupFailed     BackupState = "failed"
)

// BackupSession is the per-user record of the last or running backup or
// restore. One row per user keeps the two directions mutually exclusive.
type BackupSession struct {
	UserDID        string       `json:"user_did"`
	Action         BackupAction `json:"action"`
	State          BackupState  `json:"state"`
	Message        string       `json:"message"`
	RemoteEndpoint string       `json:"remote_endpoint,omitempty"`
	RemoteToken    string       `json:"-"`
	UpdatedAt      int64        `json:"updated_at"`
}
