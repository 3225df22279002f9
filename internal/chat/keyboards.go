package chat

// Reply keyboard button texts.
const (
	BtnUser         = "User"
	BtnTools        = "Tools"
	BtnBack         = "Back"
	BtnSessionOff   = "Session ⛔"
	BtnSessionOn    = "Session ✅"
	BtnDownloadFile = "Download file"
	BtnUploadFile   = "Upload file"
	BtnDownloadDir  = "Download directory"
)

// Inline button action tokens.
const (
	ActionEditProfile    = "profile:edit"
	ActionGateConfirm    = "gate:confirm"
	ActionGateCancel     = "gate:cancel"
	ActionUploadReplace  = "upload:replace"
	ActionUploadCancel   = "upload:cancel"
	ActionArchiveConfirm = "archive:confirm"
	ActionArchiveCancel  = "archive:cancel"
)

func mainKeyboard() [][]string {
	return [][]string{{BtnUser, BtnTools}}
}

func toolsKeyboard(sessionOn bool) [][]string {
	toggle := BtnSessionOff
	if sessionOn {
		toggle = BtnSessionOn
	}
	return [][]string{
		{toggle, BtnDownloadFile, BtnUploadFile, BtnDownloadDir},
		{BtnBack},
	}
}

func editButtons() []Button {
	return []Button{{Text: "Edit", Action: ActionEditProfile}}
}

func gateButtons() []Button {
	return []Button{
		{Text: "Run anyway", Action: ActionGateConfirm},
		{Text: "Cancel", Action: ActionGateCancel},
	}
}

func overwriteButtons() []Button {
	return []Button{
		{Text: "Replace", Action: ActionUploadReplace},
		{Text: "Cancel", Action: ActionUploadCancel},
	}
}

func archiveButtons() []Button {
	return []Button{
		{Text: "Download", Action: ActionArchiveConfirm},
		{Text: "Cancel", Action: ActionArchiveCancel},
	}
}
