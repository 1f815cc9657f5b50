package notify

import (
	"context"
	"io"

	"github.com/a-h/templ"

	"github.com/pavelanni/assessor/internal/i18n"
)

func localize(locale, id string, data map[string]any) string {
	return i18n.Localize(locale, id, data)
}

// layout wraps body paragraphs and a call-to-action link in a minimal
// HTML email. All text is escaped.
func layout(paragraphs []string, link, linkText, footer string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, "<!DOCTYPE html><html><body style=\"font-family:sans-serif\">"); err != nil {
			return err
		}
		for _, p := range paragraphs {
			if _, err := io.WriteString(w, "<p>"+templ.EscapeString(p)+"</p>"); err != nil {
				return err
			}
		}
		href := templ.EscapeString(string(templ.URL(link)))
		if _, err := io.WriteString(w, "<p><a href=\""+href+"\">"+templ.EscapeString(linkText)+"</a></p>"); err != nil {
			return err
		}
		_, err := io.WriteString(w, "<p><small>"+templ.EscapeString(footer)+"</small></p></body></html>")
		return err
	})
}

func invitationEmail(locale string, data map[string]any, link string) templ.Component {
	return layout(
		[]string{
			localize(locale, "email.invitation.greeting", data),
			localize(locale, "email.invitation.body", data),
		},
		link,
		localize(locale, "email.invitation.link", nil),
		localize(locale, "email.footer", nil),
	)
}

func resultEmail(locale string, data map[string]any, link string) templ.Component {
	return layout(
		[]string{localize(locale, "email.result.body", data)},
		link,
		localize(locale, "email.result.link", nil),
		localize(locale, "email.footer", nil),
	)
}
