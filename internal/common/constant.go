package common

// AuthorizationHeaderName carries the bearer access token on requests.
const AuthorizationHeaderName = "Authorization"

// AnonymousDID is the caller identity used when a script runs without a token.
const AnonymousDID = "anonymous"

// Reserved collection names, hidden from user-facing collection operations.
const (
	ScriptsCollection   = "__scripts__"
	TransfersCollection = "__transfers__"
	ReservedPrefix      = "__"
)

// Data root layout.
const (
	VaultsDirName       = "vaults"
	BackupVaultsDirName = "backup_vaults"
	TempDirName         = ".temp"
	FilesDirName        = "files"
	ArchiveFileName     = "database.archive"
)
