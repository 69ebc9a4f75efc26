package provider

import (
	gmail "google.golang.org/api/gmail/v1"
)

// GoogleScopes are requested for Google accounts. Full mail access is
// required for IMAP and SMTP XOAUTH2.
var GoogleScopes = []string{
	gmail.MailGoogleComScope, // IMAP + SMTP
	"https://www.googleapis.com/auth/userinfo.email",
}

// MicrosoftScopes are requested for Outlook.com / Microsoft 365 accounts.
// offline_access is how the Microsoft identity platform issues refresh tokens.
var MicrosoftScopes = []string{
	"https://outlook.office.com/IMAP.AccessAsUser.All",
	"https://outlook.office.com/SMTP.Send",
	"offline_access",
}
