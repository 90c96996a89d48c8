package notify

import (
	"context"
	"log/slog"
	"strings"

	"github.com/commentpilot/user-service/internal/models"
)

// Mailer turns lifecycle events into emails for a user.
type Mailer struct {
	sender     Sender
	templates  *Templates
	upgradeURL string
}

func NewMailer(sender Sender, frontendURL string) *Mailer {
	return &Mailer{
		sender:     sender,
		templates:  MustTemplates(),
		upgradeURL: strings.TrimRight(frontendURL, "/") + "/pricing",
	}
}

func (m *Mailer) TrialExpired(ctx context.Context, user *models.User, graceDays int) bool {
	return m.send(ctx, user, "trial_expired", "Your CommentPilot Premium trial has ended", graceDays)
}

func (m *Mailer) GraceExpired(ctx context.Context, user *models.User) bool {
	return m.send(ctx, user, "grace_expired", "Your CommentPilot account is now on the Free plan", 0)
}

func (m *Mailer) TrialExpiringSoon(ctx context.Context, user *models.User, daysLeft int) bool {
	return m.send(ctx, user, "trial_expiring", "Your CommentPilot Premium trial ends soon", daysLeft)
}

func (m *Mailer) send(ctx context.Context, user *models.User, template, subject string, days int) bool {
	if user.Email == "" {
		return false
	}
	body, err := m.templates.Render(template, EmailData{
		Name:       displayName(user),
		Days:       days,
		UpgradeURL: m.upgradeURL,
	})
	if err != nil {
		slog.Error("failed to render email", "template", template, "user_id", user.ID.String(), "error", err)
		return false
	}
	return m.sender.Send(ctx, user.Email, subject, body)
}

func displayName(user *models.User) string {
	if user.Name != "" {
		return user.Name
	}
	return strings.Split(user.Email, "@")[0]
}
