package ports

// SetupFormData holds the answers of the interactive setup form.
type SetupFormData struct {
	BotToken       string
	StoreInKeyring bool
	TokenEnv       string
	AllowedUsers   string // comma-separated Telegram user IDs
	Denylist       string // comma-separated glob patterns
	PendingPolicy  string
	HostKeyPolicy  string // "known_hosts" or "insecure"
	LogLevel       string
	Confirmed      bool
}

// SetupForm asks the operator for the setup answers, starting from prefill.
type SetupForm interface {
	Run(prefill SetupFormData) (SetupFormData, error)
}
