package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderVerificationTemplate(t *testing.T) {
	link := "https://api.example.com/users/verify/abc-123"

	body, err := renderVerificationTemplate(link)
	require.NoError(t, err)

	// The link appears both as the button href and as plain text.
	assert.Contains(t, body, `href="`+link+`"`)
	assert.Contains(t, body, "<p style=\"word-break: break-all; color: #4F46E5;\">"+link+"</p>")
	assert.Contains(t, body, "Verify your email address")
}

func TestVerificationLinkFormat(t *testing.T) {
	svc := NewService("smtp.example.com", "587", "noreply@example.com", "secret", "https://api.example.com")

	assert.Equal(t, "noreply@example.com", svc.fromEmail)
	assert.Equal(t, "https://api.example.com", svc.baseURL)
}
