package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

const SOS_TEMPLATE = "sos_alert"

var sosTemplate = template.Must(template.New(SOS_TEMPLATE).Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1f2933;">
{{- if .IsTest}}
  <p style="background: #fff3cd; padding: 12px; border-radius: 4px;">
    <strong>This is a test.</strong> {{.UserName}} is testing their emergency alerts. No action is needed.
  </p>
{{- end}}
  <h2 style="color: #c81e1e;">{{.UserName}} needs help</h2>
  <p>Hi {{.ContactName}},</p>
  <p>{{.UserName}} triggered an SOS alert at {{.Timestamp}} and listed you as an emergency contact.</p>
{{- if .Address}}
  <p><strong>Last known address:</strong> {{.Address}}</p>
{{- end}}
  <p><a href="{{.MapLink}}">View their location on a map</a></p>
{{- if .Phone}}
  <p>Call them on <a href="tel:{{.Phone}}">{{.Phone}}</a>.</p>
{{- end}}
  <p>If you cannot reach them, contact your local emergency services.</p>
</body>
</html>
`))

type SOSEmailData struct {
	ContactName string
	UserName    string
	Phone       string
	Address     string
	MapLink     string
	IsTest      bool
	TriggeredAt time.Time
}

func (data SOSEmailData) Timestamp() string {
	return data.TriggeredAt.UTC().Format("Jan 2, 2006 15:04 MST")
}

// RenderSOSEmail returns the subject & html body of an SOS alert
func RenderSOSEmail(data SOSEmailData) (string, string, error) {
	subject := fmt.Sprintf("SOS: %s needs help", data.UserName)
	if data.IsTest {
		subject = "[TEST] " + subject
	}

	var body bytes.Buffer
	if err := sosTemplate.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("render %s: %w", SOS_TEMPLATE, err)
	}

	return subject, body.String(), nil
}
