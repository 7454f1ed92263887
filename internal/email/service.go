// Package email sends review notifications over SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	ttemplate "text/template"
)

var ErrNotConfigured = errors.New("email not configured")

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	// AppURL is the public origin links in notifications point at.
	AppURL string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Service struct {
	config Config
	auth   smtp.Auth
	send   sendFunc
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{config: config, auth: auth, send: smtp.SendMail}
}

func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// Notice describes new review activity on a student's essay.
type Notice struct {
	To            string
	StudentName   string
	ReviewerName  string
	DocumentID    string
	DocumentTitle string
	// Kind is comment, strikethrough or insertion.
	Kind  string
	Quote string
	Text  string
}

func (n Notice) Subject() string {
	return fmt.Sprintf("New %s on %q", n.Kind, n.DocumentTitle)
}

// NotifyReviewActivity emails the essay's owner about a new annotation.
func (s *Service) NotifyReviewActivity(n Notice) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	data := noticeData{Notice: n, URL: strings.TrimRight(s.config.AppURL, "/") + "/documents/" + n.DocumentID}
	var plain, rich bytes.Buffer
	if err := plainNotice.Execute(&plain, data); err != nil {
		return fmt.Errorf("render notice text: %w", err)
	}
	if err := htmlNotice.Execute(&rich, data); err != nil {
		return fmt.Errorf("render notice html: %w", err)
	}
	msg := s.buildMessage([]string{n.To}, n.Subject(), plain.String(), rich.String())
	if err := s.send(s.config.Host+":"+s.config.Port, s.auth, s.config.From, []string{n.To}, msg); err != nil {
		return fmt.Errorf("send notice: %w", err)
	}
	return nil
}

const boundary = "pingin-alternative"

func (s *Service) buildMessage(to []string, subject, plain, html string) []byte {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)
	fmt.Fprintf(&msg, "--%s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n", boundary, plain)
	fmt.Fprintf(&msg, "--%s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s\r\n", boundary, html)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes()
}

type noticeData struct {
	Notice
	URL string
}

var plainNotice = ttemplate.Must(ttemplate.New("plain").Parse(`Hi {{.StudentName}},

{{.ReviewerName}} left a new {{.Kind}} on "{{.DocumentTitle}}".
{{if .Quote}}
On: "{{.Quote}}"
{{end}}{{if .Text}}
{{.Text}}
{{end}}
Review it at {{.URL}}
`))

var htmlNotice = template.Must(template.New("html").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>{{.DocumentTitle}}</title></head>
<body style="font-family: -apple-system, 'Segoe UI', sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
  <p>Hi {{.StudentName}},</p>
  <p><strong>{{.ReviewerName}}</strong> left a new {{.Kind}} on <em>{{.DocumentTitle}}</em>.</p>
  {{if .Quote}}<blockquote style="border-left: 3px solid #ccc; margin: 0; padding-left: 12px; color: #666;">{{.Quote}}</blockquote>{{end}}
  {{if .Text}}<p>{{.Text}}</p>{{end}}
  <p><a href="{{.URL}}" style="display: inline-block; padding: 10px 20px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px;">Open the essay</a></p>
</body>
</html>`))
