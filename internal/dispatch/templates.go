package dispatch

import (
	"bytes"
	"fmt"
	"html/template"

	"walkin-queue/internal/models"
)

// Job priorities per notification kind. Higher is sent first.
const (
	PriorityConfirmation   = 1
	PriorityAlmostYourTurn = 2
	PriorityYourTurn       = 3
)

// Notification is one logical message before channel fan-out.
type Notification struct {
	Kind     models.NotificationKind
	Priority int
	Subject  string
	HTML     string
	Text     string
	SMS      string
}

// Templates renders the visitor-facing messages.
type Templates struct {
	Shop      string
	SiteURL   string
	GraceTime string
}

var emailLayout = template.Must(template.New("email").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <div style="background: {{.Color}}; padding: 30px; border-radius: 10px; text-align: center;">
    <h1 style="color: white; margin: 0;">{{.Heading}}</h1>
    <p style="color: white; margin: 10px 0 0 0;">{{.Lead}}</p>
  </div>
  <div style="background: #f8f9fa; padding: 20px; border-radius: 8px; margin-top: 20px;">
    <h2 style="color: #333; margin-top: 0;">Hello, {{.Name}}!</h2>
    {{range .Lines}}<p style="color: #666; line-height: 1.6;">{{.}}</p>
    {{end}}
  </div>
  <p style="color: #999; font-size: 14px; text-align: center;">Thank you for your patience!<br><strong>{{.Shop}}</strong>{{if .SiteURL}}<br><a href="{{.SiteURL}}">{{.SiteURL}}</a>{{end}}</p>
</div>`))

type emailView struct {
	Color   string
	Heading string
	Lead    string
	Name    string
	Lines   []string
	Shop    string
	SiteURL string
}

// Confirmation is sent after enrollment. position is one-based.
func (t Templates) Confirmation(name string, ticketNumber int64, position int) Notification {
	lines := []string{
		fmt.Sprintf("You joined the queue and received ticket #%d.", ticketNumber),
		fmt.Sprintf("Your current position: %d.", position),
		"We will let you know when your turn is close and again when it is your turn.",
	}
	return Notification{
		Kind:     models.KindConfirmation,
		Priority: PriorityConfirmation,
		Subject:  fmt.Sprintf("You are in the queue - %s", t.Shop),
		HTML: t.render(emailView{
			Color:   "#8B4513",
			Heading: fmt.Sprintf("Ticket #%d", ticketNumber),
			Lead:    fmt.Sprintf("You are in the queue at %s!", t.Shop),
			Name:    name,
			Lines:   lines,
		}),
		Text: t.text(name, lines),
		SMS: fmt.Sprintf("Hi %s! You joined the queue at %s. Ticket #%d. Position: %d.",
			name, t.Shop, ticketNumber, position),
	}
}

// AlmostYourTurn warns a visitor with peopleAhead others before them.
func (t Templates) AlmostYourTurn(name string, peopleAhead int) Notification {
	ahead := aheadPhrase(peopleAhead)
	lines := []string{
		fmt.Sprintf("You are almost up at %s: %s.", t.Shop, ahead),
		"Please head to the shop now.",
	}
	return Notification{
		Kind:     models.KindAlmostYourTurn,
		Priority: PriorityAlmostYourTurn,
		Subject:  fmt.Sprintf("Get ready, your turn is close - %s", t.Shop),
		HTML: t.render(emailView{
			Color:   "#ff9800",
			Heading: "Get ready!",
			Lead:    ahead,
			Name:    name,
			Lines:   lines,
		}),
		Text: t.text(name, lines),
		SMS:  fmt.Sprintf("%s, %s. Please head to %s now.", name, ahead, t.Shop),
	}
}

// YourTurn is sent when the ticket is called.
func (t Templates) YourTurn(name string) Notification {
	lines := []string{
		fmt.Sprintf("It is your turn to be served at %s. Please come in now.", t.Shop),
		fmt.Sprintf("You have %s to show up or you will lose your place.", t.GraceTime),
	}
	return Notification{
		Kind:     models.KindYourTurn,
		Priority: PriorityYourTurn,
		Subject:  fmt.Sprintf("It is your turn at %s!", t.Shop),
		HTML: t.render(emailView{
			Color:   "#4caf50",
			Heading: "It is your turn!",
			Lead:    fmt.Sprintf("Come in to %s now!", t.Shop),
			Name:    name,
			Lines:   lines,
		}),
		Text: t.text(name, lines),
		SMS: fmt.Sprintf("%s, it is your turn! You have %s to show up or you will lose your place.",
			name, t.GraceTime),
	}
}

func (t Templates) render(v emailView) string {
	v.Shop = t.Shop
	v.SiteURL = t.SiteURL
	var buf bytes.Buffer
	if err := emailLayout.Execute(&buf, v); err != nil {
		// Only a broken template can fail; fall back to the plain lead.
		return template.HTMLEscapeString(v.Lead)
	}
	return buf.String()
}

func (t Templates) text(name string, lines []string) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Hello, %s!\n\n", name)
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	fmt.Fprintf(&buf, "\nThank you for your patience!\n%s\n", t.Shop)
	return buf.String()
}

func aheadPhrase(n int) string {
	switch n {
	case 0:
		return "you are next"
	case 1:
		return "only 1 person ahead of you"
	default:
		return fmt.Sprintf("only %d people ahead of you", n)
	}
}
