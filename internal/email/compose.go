package email

import (
	"bytes"
	"fmt"
	"text/template"
)

// Body templates per job template ID. Plain text on purpose: endorsement
// emails must render everywhere and survive aggressive spam filtering.
var bodyTemplates = map[string]*template.Template{
	"endorsement_verification": template.Must(template.New("verification").Parse(
		`Hello {{.name}},

Thank you for endorsing this campaign. To confirm your email address and
activate your endorsement, open the link below within 24 hours:

{{.verify_url}}

This link expires at {{.expires_at}} and can be used only once.

If you did not submit this endorsement, you can ignore this message.
`)),
	"endorsement_approved": template.Must(template.New("approved").Parse(
		`Hello {{.name}},

Your endorsement has been reviewed and approved. Thank you for adding your
voice to the campaign.
`)),
	"endorsement_rejected": template.Must(template.New("rejected").Parse(
		`Hello {{.name}},

After review, your endorsement will not be displayed publicly. If you believe
this is a mistake, reply to this message.
`)),
}

// ComposeMessage renders the template body and wraps it in a minimal RFC 822
// message ready for a Sender.
func ComposeMessage(from, to, subject, templateID string, data map[string]string) ([]byte, error) {
	tmpl, ok := bodyTemplates[templateID]
	if !ok {
		return nil, fmt.Errorf("unknown email template: %s", templateID)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return nil, fmt.Errorf("failed to render email template %s: %w", templateID, err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}
