package render

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func init() {
	lang := language.English

	message.SetString(lang, AnnouncementKey, "Server %s needs players! Make the move and help it grow.")
	message.SetString(lang, AnnouncementSwitchKey, "Switch now and earn %s of playtime credit.")
	message.SetString(lang, ReminderKey, "The migration to %s is still on. %d players have already joined.")
	message.SetString(lang, SwitchConfirmationKey, "Welcome to %s! Your switch reward of %s has been credited.")
	message.SetString(lang, SeederWelcomeKey, "Thanks for holding down %s! Stick around to earn campaign rewards.")
	message.SetString(lang, PlaytimeRewardKey, "You have played %s on %s. A %s playtime credit is yours.")
	message.SetString(lang, CompletionRewardKey, "Campaign complete! %s has been credited for seeing it through.")
	message.SetString(lang, ClosureKey, "The migration to %s is complete. Thanks to everyone who joined!")
	message.SetString(lang, CancellationKey, "The migration campaign for %s has been cancelled.")
	message.SetString(lang, DrillPrefixKey, "[DRILL] ")
}
