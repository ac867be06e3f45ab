package email

import (
	"bytes"
	"fmt"
	"html/template"
)

// DLQAlertParams contains parameters for a dead-letter-queue alert email.
type DLQAlertParams struct {
	Stream      string // stream the alert reports on (the DLQ stream key)
	Count       int64  // number of entries that triggered the alert
	Threshold   int64  // configured high-water mark that was crossed
	SampleError string // error string from the most recent failure
	DashboardURL string // link to the admin API's DLQ view
	AppName     string // application name (e.g., "Rotif")
}

// BuildDLQAlertEmail generates the HTML and plain-text bodies for a DLQ
// high-water-mark alert sent to the addresses in NotificationsConfig.
func BuildDLQAlertEmail(params DLQAlertParams) (html, text string, err error) {
	htmlTmpl := template.Must(template.New("dlq_alert_html").Parse(dlqAlertHTMLTemplate))
	textTmpl := template.Must(template.New("dlq_alert_text").Parse(dlqAlertTextTemplate))

	if params.AppName == "" {
		params.AppName = "Rotif"
	}

	var htmlBuf bytes.Buffer
	if err := htmlTmpl.Execute(&htmlBuf, params); err != nil {
		return "", "", fmt.Errorf("failed to generate HTML email: %w", err)
	}

	var textBuf bytes.Buffer
	if err := textTmpl.Execute(&textBuf, params); err != nil {
		return "", "", fmt.Errorf("failed to generate text email: %w", err)
	}

	return htmlBuf.String(), textBuf.String(), nil
}

const dlqAlertHTMLTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Dead-letter queue alert: {{.Stream}}</title>
</head>
<body style="margin: 0; padding: 0; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif; background-color: #f4f4f5;">
  <table role="presentation" style="width: 100%; border-collapse: collapse;">
    <tr>
      <td align="center" style="padding: 40px 0;">
        <table role="presentation" style="width: 100%; max-width: 600px; border-collapse: collapse; background-color: #ffffff; border-radius: 8px; box-shadow: 0 1px 3px rgba(0,0,0,0.1);">
          <tr>
            <td style="padding: 40px 40px 20px 40px; text-align: center;">
              <h1 style="margin: 0; font-size: 22px; font-weight: 600; color: #b91c1c;">
                Dead-letter queue high-water mark crossed
              </h1>
            </td>
          </tr>
          <tr>
            <td style="padding: 20px 40px;">
              <p style="margin: 0 0 16px 0; font-size: 16px; line-height: 24px; color: #3f3f46;">
                Stream <strong>{{.Stream}}</strong> has <strong>{{.Count}}</strong> entries in its
                dead-letter queue, above the configured threshold of <strong>{{.Threshold}}</strong>.
              </p>
              {{if .SampleError}}
              <table role="presentation" style="width: 100%; border-collapse: collapse; margin: 20px 0;">
                <tr>
                  <td style="padding: 16px; background-color: #fef2f2; border-radius: 6px; border-left: 4px solid #b91c1c;">
                    <p style="margin: 0; font-size: 14px; line-height: 22px; color: #52525b; font-family: monospace;">
                      {{.SampleError}}
                    </p>
                  </td>
                </tr>
              </table>
              {{end}}
            </td>
          </tr>
          {{if .DashboardURL}}
          <tr>
            <td style="padding: 20px 40px;">
              <table role="presentation" style="width: 100%; border-collapse: collapse;">
                <tr>
                  <td align="center">
                    <a href="{{.DashboardURL}}" style="display: inline-block; padding: 14px 32px; background-color: #18181b; color: #ffffff; text-decoration: none; font-size: 16px; font-weight: 500; border-radius: 6px;">
                      View dead-letter queue
                    </a>
                  </td>
                </tr>
              </table>
            </td>
          </tr>
          {{end}}
          <tr>
            <td style="padding: 24px 40px; text-align: center;">
              <p style="margin: 0; font-size: 12px; color: #a1a1aa;">
                Sent by {{.AppName}}
              </p>
            </td>
          </tr>
        </table>
      </td>
    </tr>
  </table>
</body>
</html>`

const dlqAlertTextTemplate = `Dead-letter queue high-water mark crossed

Stream {{.Stream}} has {{.Count}} entries in its dead-letter queue, above
the configured threshold of {{.Threshold}}.
{{if .SampleError}}
Most recent failure:
{{.SampleError}}
{{end}}
{{if .DashboardURL}}
View the dead-letter queue: {{.DashboardURL}}
{{end}}
---
Sent by {{.AppName}}`
