package usecase

import (
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/arklim/authguard/internal/core/domain"
)

func renderOTPMessage(account domain.Account, code string, validity time.Duration) domain.Message {
	minutes := int(validity.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}

	var body strings.Builder
	fmt.Fprintf(&body, "<p>Hello %s</p>", greetingName(account))
	body.WriteString("<p>For security reason, you're required to use the following One Time Password to login:</p>")
	fmt.Fprintf(&body, "<p><b>%s</b></p><br>", html.EscapeString(code))
	fmt.Fprintf(&body, "<p>Note: this OTP is set to expire in %d minutes.</p>", minutes)

	return domain.Message{
		To:      account.Email,
		Subject: fmt.Sprintf("Here's your One Time Password (OTP) - Expire in %d minutes!", minutes),
		Body:    body.String(),
		Kind:    domain.MessageKindOTP,
	}
}

func renderResetMessage(account domain.Account, baseURL, token string) domain.Message {
	link := baseURL + "?token=" + url.QueryEscape(token)

	var body strings.Builder
	fmt.Fprintf(&body, "<p>Hello %s,</p>", greetingName(account))
	body.WriteString("<p>You have requested to reset your password.</p>")
	body.WriteString("<p>Click the link below to change your password:</p>")
	fmt.Fprintf(&body, "<p><a href=\"%s\">Change my password</a></p><br>", html.EscapeString(link))
	body.WriteString("<p>Ignore this email if you do remember your password, or you have not made the request.</p>")

	return domain.Message{
		To:      account.Email,
		Subject: "Here's the link to reset your password",
		Body:    body.String(),
		Kind:    domain.MessageKindPasswordReset,
	}
}

// greetingName returns the HTML-escaped name to greet, falling back to the email.
func greetingName(account domain.Account) string {
	name := strings.TrimSpace(account.Name)
	if name == "" {
		name = account.Email
	}
	return html.EscapeString(name)
}
