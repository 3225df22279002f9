package chat

import (
	"fmt"
	"strings"

	"github.com/acolita/chat-shell-bridge/internal/session"
)

const (
	msgWelcome          = "Welcome! Use the buttons below:"
	msgNotInitialized   = "Send /start to initialize your profile."
	msgMainMenu         = "Main menu:"
	msgChooseTool       = "Choose a tool:"
	msgEditPrompt       = "Send new SSH credentials separated by commas:\nhost,port,username,password"
	msgBadCredentials   = "Wrong format. Example:\n192.168.0.1,22,root,qwerty"
	msgCredentialsSaved = "✅ Credentials updated!"
	msgNoOutput         = "Command executed. No output."
	msgNothingToConfirm = "Nothing to confirm."
	msgSessionRequired  = "Turn the session on first: Tools → " + BtnSessionOff
	msgCancelled        = "Cancelled."
	msgUploadFirst      = "Press " + BtnUploadFile + " before sending a file."
	msgAnswerButtons    = "Use the buttons above, or answer %s."
)

func profileText(c session.Credentials) string {
	return fmt.Sprintf("🔒 SSH credentials:\nHost: %s\nPort: %d\nUsername: %s\nPassword: %s\n\n"+
		"Credentials are kept in memory only and are cleared when the bot restarts.",
		c.Host, c.Port, c.User, c.MaskedPassword())
}

func sessionToggledText(on bool) string {
	if on {
		return "Session switched to: " + BtnSessionOn
	}
	return "Session switched to: " + BtnSessionOff
}

func connectFailedText(err error) string {
	return "❌ SSH connection failed:\n" + err.Error()
}

func sessionLostText(err error) string {
	return "❌ Session lost: " + err.Error() + "\nTurn it on again from Tools."
}

func gatePromptText(command, replaced string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ %q starts an interactive program that can hang the session. Run it anyway?", command)
	if replaced != "" {
		fmt.Fprintf(&b, "\n(It replaces the unconfirmed %q.)", replaced)
	}
	return b.String()
}

func gateRejectedText(pending string) string {
	return fmt.Sprintf("%q is still waiting for confirmation. Confirm or cancel it first.", pending)
}

func filenamePromptText(cwd string) string {
	return fmt.Sprintf("Send the name of a file in %s.", cwd)
}

func uploadPromptText(cwd string) string {
	return fmt.Sprintf("Send the file as a document. It will be saved to %s. Any other message cancels.", cwd)
}

func overwritePromptText(remote string) string {
	return fmt.Sprintf("%s already exists. Replace it?", remote)
}

func archivePromptText(dir string) string {
	return fmt.Sprintf("Download %s as a .tar.gz archive?", dir)
}

func transferFailedText(err error) string {
	return "❌ Transfer failed: " + err.Error()
}
