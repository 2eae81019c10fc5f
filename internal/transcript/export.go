// ABOUTME: HTML export of transcripts for human-readable review
// ABOUTME: Renders message text through goldmark so bot markdown displays properly

package transcript

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/yuin/goldmark"

	"github.com/southworks/botemulator/internal/activity"
)

var exportTemplate = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Transcript {{.ConversationID}}</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; }
.entry { margin: 0.75rem 0; padding: 0.5rem 0.75rem; border-radius: 6px; }
.user { background: #e8f0fe; }
.bot { background: #f1f3f4; }
.meta { color: #5f6368; font-size: 0.8rem; margin-bottom: 0.25rem; }
.event { color: #5f6368; font-style: italic; }
</style>
</head>
<body>
<h1>Conversation {{.ConversationID}}</h1>
{{range .Entries}}<div class="entry {{.Class}}">
<div class="meta">{{.Sender}} &middot; {{.Timestamp}}</div>
{{if .Body}}{{.Body}}{{else}}<span class="event">{{.Event}}</span>{{end}}
</div>
{{end}}</body>
</html>
`))

type exportEntry struct {
	Class     string
	Sender    string
	Timestamp string
	Body      template.HTML
	Event     string
}

// ExportHTML renders a transcript as a standalone HTML document. Message
// text is treated as markdown; non-message activities render as events.
func ExportHTML(conversationID string, activities []*activity.Activity) ([]byte, error) {
	entries := make([]exportEntry, 0, len(activities))
	for _, a := range activities {
		entry := exportEntry{
			Class:     "user",
			Sender:    senderName(a),
			Timestamp: a.Timestamp,
		}
		if a.From != nil && a.From.Role == activity.RoleBot {
			entry.Class = "bot"
		}

		if a.Type == activity.TypeMessage && a.Text != "" {
			var htmlBuf bytes.Buffer
			if err := goldmark.Convert([]byte(a.Text), &htmlBuf); err != nil {
				return nil, fmt.Errorf("rendering message %s: %w", a.ID, err)
			}
			entry.Body = template.HTML(htmlBuf.String())
		} else {
			entry.Event = a.Type
		}
		entries = append(entries, entry)
	}

	data := struct {
		ConversationID string
		Entries        []exportEntry
	}{
		ConversationID: conversationID,
		Entries:        entries,
	}

	var out bytes.Buffer
	if err := exportTemplate.Execute(&out, data); err != nil {
		return nil, fmt.Errorf("rendering transcript export: %w", err)
	}
	return out.Bytes(), nil
}

func senderName(a *activity.Activity) string {
	if a.From == nil {
		return "system"
	}
	if a.From.Name != "" {
		return a.From.Name
	}
	return a.From.ID
}
