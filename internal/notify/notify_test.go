package notify

import (
	"context"
	"testing"

	"github.com/commentpilot/user-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplates_RenderAll(t *testing.T) {
	tmpl, err := NewTemplates()
	require.NoError(t, err)

	for _, name := range []string{"trial_expired", "grace_expired", "trial_expiring"} {
		out, err := tmpl.Render(name, EmailData{Name: "Jane", Days: 3, UpgradeURL: "https://x/pricing"})
		require.NoError(t, err, name)
		assert.Contains(t, out, "Jane")
		assert.Contains(t, out, "https://x/pricing")
	}

	_, err = tmpl.Render("missing", EmailData{})
	assert.Error(t, err)
}

func TestTemplates_EscapesNames(t *testing.T) {
	out, err := MustTemplates().Render("grace_expired", EmailData{Name: "<script>"})
	require.NoError(t, err)
	assert.NotContains(t, out, "<script>")
}

func TestMailer_UsesEmailLocalPartWhenNameMissing(t *testing.T) {
	var gotTo, gotSubject, gotBody string
	sender := SenderFunc(func(_ context.Context, to, subject, body string) bool {
		gotTo, gotSubject, gotBody = to, subject, body
		return true
	})

	ok := NewMailer(sender, "https://commentpilot.app/").TrialExpiringSoon(context.Background(), &models.User{Email: "jane@example.com"}, 1)

	assert.True(t, ok)
	assert.Equal(t, "jane@example.com", gotTo)
	assert.Contains(t, gotSubject, "ends soon")
	assert.Contains(t, gotBody, "Hi jane,")
	assert.Contains(t, gotBody, "1 day<")
	assert.Contains(t, gotBody, "https://commentpilot.app/pricing")
}

func TestMailer_ReportsSenderFailure(t *testing.T) {
	sender := SenderFunc(func(context.Context, string, string, string) bool { return false })
	assert.False(t, NewMailer(sender, "https://x").GraceExpired(context.Background(), &models.User{Email: "a@b.c"}))
	assert.False(t, NewMailer(sender, "https://x").GraceExpired(context.Background(), &models.User{}))
}

func TestEnvelopeAddress(t *testing.T) {
	assert.Equal(t, "hello@commentpilot.app", envelopeAddress("CommentPilot <hello@commentpilot.app>"))
	assert.Equal(t, "a@b.c", envelopeAddress(" a@b.c "))
}
