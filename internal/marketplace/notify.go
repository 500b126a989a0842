package marketplace

import (
	"context"
	"fmt"
	"strings"

	"github.com/ignite/leadgen-site/internal/ses"
	"github.com/ignite/leadgen-site/internal/storage"
)

// Sender delivers an email.
type Sender interface {
	Send(ctx context.Context, msg *ses.Message) (string, error)
}

const (
	tplSubject = "registration_subject"
	tplHTML    = "registration_html"
	tplText    = "registration_text"
)

const subjectTemplate = `New {{ listing_type }} marketplace registration: {{ company_name }}`

const htmlTemplate = `<h2>New marketplace registration</h2>
<table>
<tr><td>Company</td><td>{{ company_name | escape }}</td></tr>
<tr><td>Contact</td><td>{{ contact_name | escape }} &lt;{{ email | escape }}&gt;</td></tr>
<tr><td>Phone</td><td>{{ phone | or_dash | escape }}</td></tr>
<tr><td>Website</td><td>{{ website | or_dash | escape }}</td></tr>
<tr><td>Listing</td><td>{{ listing_type }}</td></tr>
{% if team_size > 0 %}<tr><td>Team size</td><td>{{ team_size }}</td></tr>
{% endif %}{% if product_url != "" %}<tr><td>Product</td><td>{{ product_url | escape }}</td></tr>
{% endif %}<tr><td>Categories</td><td>{{ categories | join: ", " | or_dash | escape }}</td></tr>
</table>
{% if message != "" %}<p>{{ message | escape | newline_to_br }}</p>
{% endif %}<p>Registration {{ id }} &middot; {{ total }} total</p>
`

const textTemplate = `New marketplace registration

Company:    {{ company_name }}
Contact:    {{ contact_name }} <{{ email }}>
Phone:      {{ phone | or_dash }}
Website:    {{ website | or_dash }}
Listing:    {{ listing_type }}
{% if team_size > 0 %}Team size:  {{ team_size }}
{% endif %}{% if product_url != "" %}Product:    {{ product_url }}
{% endif %}Categories: {{ categories | join: ", " | or_dash }}
{% if message != "" %}
{{ message }}
{% endif %}
Registration {{ id }} ({{ total }} total)
`

// EmailNotifier mails each registration to the operator inbox.
type EmailNotifier struct {
	sender   Sender
	renderer *ses.Renderer
	to       []string
}

// NewEmailNotifier sends to the comma-separated addresses in to.
func NewEmailNotifier(sender Sender, to string) *EmailNotifier {
	r := ses.NewRenderer()
	r.MustRegister(tplSubject, subjectTemplate)
	r.MustRegister(tplHTML, htmlTemplate)
	r.MustRegister(tplText, textTemplate)

	var recipients []string
	for _, addr := range strings.Split(to, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			recipients = append(recipients, addr)
		}
	}
	return &EmailNotifier{sender: sender, renderer: r, to: recipients}
}

func (n *EmailNotifier) NotifyRegistration(ctx context.Context, reg *storage.Registration, count storage.RegistrationCount) error {
	vars := map[string]interface{}{
		"id":           reg.ID,
		"company_name": reg.CompanyName,
		"contact_name": reg.ContactName,
		"email":        reg.Email,
		"phone":        reg.Phone,
		"website":      reg.Website,
		"listing_type": reg.ListingType,
		"team_size":    reg.TeamSize,
		"product_url":  reg.ProductURL,
		"categories":   reg.Categories,
		"message":      reg.Message,
		"total":        count.Total,
	}

	msg := &ses.Message{
		To:      n.to,
		ReplyTo: reg.Email,
		Tags:    map[string]string{"kind": "marketplace_registration", "listing_type": reg.ListingType},
	}
	var err error
	if msg.Subject, err = n.renderer.Render(tplSubject, vars); err != nil {
		return err
	}
	if msg.HTML, err = n.renderer.Render(tplHTML, vars); err != nil {
		return err
	}
	if msg.Text, err = n.renderer.Render(tplText, vars); err != nil {
		return err
	}

	if _, err := n.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify registration %s: %w", reg.ID, err)
	}
	return nil
}
