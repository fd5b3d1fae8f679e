package templates

import (
	"fmt"
	"html"
	"strings"
)

// AlertField is one labelled row of a call alert
type AlertField struct {
	Label string
	Value string
}

// RenderCallAlert generates the HTML body of an urgent call alert. Every value
// is escaped; empty fields are skipped.
func RenderCallAlert(heading string, fields []AlertField, link string) string {
	var rows strings.Builder
	for _, f := range fields {
		if strings.TrimSpace(f.Value) == "" {
			continue
		}
		fmt.Fprintf(&rows, `<tr><th>%s</th><td>%s</td></tr>`,
			html.EscapeString(f.Label),
			strings.ReplaceAll(html.EscapeString(f.Value), "\n", "<br>"))
	}

	button := ""
	if link != "" {
		button = fmt.Sprintf(`<p class="cta"><a href="%s">Open in dispatch</a></p>`, html.EscapeString(link))
	}

	safeHeading := html.EscapeString(heading)
	return fmt.Sprintf(`<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Strict//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-strict.dtd">
<html xmlns="http://www.w3.org/1999/xhtml">
<head>
  <meta http-equiv="Content-Type" content="text/html; charset=utf-8">
  <title>%s</title>
  <style type="text/css">
    body { font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; margin: 0; padding: 0; background-color: #0a0a0f; }
    .container { max-width: 600px; margin: 0 auto; background-color: #12121f; }
    .header { background: #b91c1c; padding: 30px; text-align: center; }
    .header h1 { color: #fff; margin: 0; font-size: 22px; }
    .content { padding: 30px; color: #e5e7eb; font-size: 15px; }
    th { text-align: left; color: #9ca3af; padding: 6px 16px 6px 0; vertical-align: top; }
    .cta a { color: #fca5a5; }
    .footer { padding: 20px; text-align: center; color: #6b7280; font-size: 12px; }
  </style>
</head>
<body>
  <div class="container">
    <div class="header"><h1>%s</h1></div>
    <div class="content">
      <table>%s</table>
      %s
    </div>
    <div class="footer"><p>&copy; Lines Police CAD dispatch</p></div>
  </div>
</body>
</html>`, safeHeading, safeHeading, rows.String(), button)
}
