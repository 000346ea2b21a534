package usecase

import (
	"strings"
	"testing"
	"time"

	"github.com/arklim/authguard/internal/core/domain"
)

func TestMessagesEscapeAccountName(t *testing.T) {
	acc := testAccount()
	acc.Name = `<img src=x onerror="alert(1)">`

	messages := map[string]domain.Message{
		"otp":   renderOTPMessage(acc, "Xy12Ab34", 5*time.Minute),
		"reset": renderResetMessage(acc, "https://app.example.com/reset", "tok"),
	}
	for kind, msg := range messages {
		if strings.Contains(msg.Body, "<img") {
			t.Fatalf("%s body must not carry raw markup from the name: %s", kind, msg.Body)
		}
		if !strings.Contains(msg.Body, "&lt;img src=x onerror=&#34;alert(1)&#34;&gt;") {
			t.Fatalf("%s body must carry the escaped name: %s", kind, msg.Body)
		}
	}
}

func TestResetMessageEscapesLink(t *testing.T) {
	msg := renderResetMessage(testAccount(), `https://app.example.com/reset"><script>`, "a b&c")

	if strings.Contains(msg.Body, "<script>") {
		t.Fatalf("link must be escaped: %s", msg.Body)
	}
	if !strings.Contains(msg.Body, `href="https://app.example.com/reset&#34;&gt;&lt;script&gt;?token=a+b%26c"`) {
		t.Fatalf("unexpected link rendering: %s", msg.Body)
	}
}

func TestGreetingFallsBackToEmail(t *testing.T) {
	acc := testAccount()
	acc.Name = "  "
	if got := greetingName(acc); got != acc.Email {
		t.Fatalf("expected %q, got %q", acc.Email, got)
	}
}
