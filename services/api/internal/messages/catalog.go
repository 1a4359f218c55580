package messages

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	keyGreeting          = "greeting"
	keySignoff           = "signoff"
	keySignoffAnonymous  = "signoff.anonymous"
	keyLookingForward    = "closing.looking_forward"
	keyConfirmSubject    = "confirmation.subject"
	keyConfirmThanks     = "confirmation.thanks"
	keyConfirmVenue      = "confirmation.venue"
	keyConfirmFree       = "confirmation.free"
	keyReminderSubject   = "reminder.subject"
	keyReminderBody      = "reminder.body"
	keyWeeklySubject     = "weekly.subject"
	keyWeeklyOpenBody    = "weekly.unregistered.body"
	keyWeeklyOpenSignup  = "weekly.unregistered.register"
	keyWeeklyBookedBody  = "weekly.registered.body"
	keyInviteDescription = "invite.description"
)

// Supported lists the languages the copy is written in; the first is the default.
var Supported = []language.Tag{language.BritishEnglish, language.AmericanEnglish}

var matcher = language.NewMatcher(Supported)

// MatchLanguage picks the closest supported language for a BCP 47 string.
func MatchLanguage(s string) language.Tag {
	tag, err := language.Parse(s)
	if err != nil {
		return Supported[0]
	}
	_, idx, _ := matcher.Match(tag)
	return Supported[idx]
}

func init() {
	for _, lang := range Supported {
		set := func(key, msg string) {
			_ = message.SetString(lang, key, msg)
		}
		set(keyGreeting, "Hello %s,")
		set(keySignoff, "Peace out,\n%s")
		set(keySignoffAnonymous, "See you soon!")
		set(keyLookingForward, "Looking forward to seeing you there!")
		set(keyConfirmSubject, "%s - registration confirmation")
		set(keyConfirmThanks, "Thank you for registering for %s at %s on %s.")
		set(keyConfirmVenue, "The address is %s.")
		set(keyConfirmFree, "This is a free, community event.")
		set(keyReminderSubject, "%s tomorrow")
		set(keyReminderBody, "This is a reminder about %s tomorrow (%s).")
		set(keyWeeklySubject, "Reminder: %s on %s")
		set(keyWeeklyOpenBody, "This is a reminder about %s this %s, %s.")
		set(keyWeeklyOpenSignup, "If you'd like to attend, please register here %s to reserve your spot.")
		set(keyWeeklyBookedBody, "This is a reminder that you are registered for %s this %s, %s.")
		set(keyInviteDescription, "Registered as %s.")
	}
}
