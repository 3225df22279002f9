package security

const (
	// KeyringService is the service name used for keyring entries.
	KeyringService = "chat-shell-bridge"

	errKeyringNotAvailable = "keyring not available"
	keyBotToken            = "telegram-bot-token"
	keyCheck               = "__chat_shell_bridge_check__"
)
