// Package render turns calendar data into localized notification messages.
package render

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"calalarm/internal/ics"
	"calalarm/internal/mail"
)

// Kind names a message template.
type Kind string

const KindEventAlarm Kind = "event-alarm"

//go:embed templates/*.tmpl
var templateFS embed.FS

// AlarmModel is the data of an event-alarm message.
type AlarmModel struct {
	Event ics.Details
	Start time.Time
	// Location is the recipient's timezone. Nil means UTC.
	Location *time.Location
	// Until is the time left before the event starts.
	Until time.Duration
}

// Renderer renders messages from the embedded templates. It is safe for
// concurrent use.
type Renderer struct {
	html map[Kind]*htmltemplate.Template
	text map[Kind]*texttemplate.Template
}

var funcs = map[string]any{"join": strings.Join}

func New() (*Renderer, error) {
	r := &Renderer{
		html: make(map[Kind]*htmltemplate.Template),
		text: make(map[Kind]*texttemplate.Template),
	}
	for _, k := range []Kind{KindEventAlarm} {
		h, err := htmltemplate.New(string(k)+".html.tmpl").Funcs(funcs).ParseFS(templateFS, "templates/"+string(k)+".html.tmpl")
		if err != nil {
			return nil, fmt.Errorf("render: parse %s html: %w", k, err)
		}
		t, err := texttemplate.New(string(k)+".txt.tmpl").Funcs(funcs).ParseFS(templateFS, "templates/"+string(k)+".txt.tmpl")
		if err != nil {
			return nil, fmt.Errorf("render: parse %s text: %w", k, err)
		}
		r.html[k], r.text[k] = h, t
	}
	return r, nil
}

type labels struct {
	Start, Link, Location, Organizer, Attendees, Resources, Notes string
}

type view struct {
	Lang         string
	Subject      string
	Notification string
	Summary      string
	Start        string
	Link         string
	Location     string
	Organizer    string
	Attendees    []string
	Resources    []string
	Description  string
	Labels       labels
}

// Render produces the message of kind for locale. Recipients are left to the
// caller.
func (r *Renderer) Render(kind Kind, locale string, model AlarmModel) (mail.Message, error) {
	h, ok := r.html[kind]
	if !ok {
		return mail.Message{}, fmt.Errorf("render: unknown template %q", kind)
	}
	tag := Match(locale)
	p := printerFor(tag)
	ev := model.Event

	v := view{
		Lang:         tag.String(),
		Subject:      p.Sprintf(keySubject, ev.Summary),
		Notification: p.Sprintf(keyNotification, FormatDuration(model.Until, locale)),
		Summary:      ev.Summary,
		Start:        formatStart(model, p.Sprintf(keyAllDay)),
		Link:         ev.VideoConference,
		Location:     ev.Location,
		Organizer:    ev.Organizer.Display(),
		Resources:    ev.Resources,
		Description:  ev.Description,
		Labels: labels{
			Start:     p.Sprintf(keyStart),
			Link:      p.Sprintf(keyLink),
			Location:  p.Sprintf(keyLocation),
			Organizer: p.Sprintf(keyOrganizer),
			Attendees: p.Sprintf(keyAttendees),
			Resources: p.Sprintf(keyResources),
			Notes:     p.Sprintf(keyNotes),
		},
	}
	for _, a := range ev.Attendees {
		v.Attendees = append(v.Attendees, a.Display())
	}

	var html, text bytes.Buffer
	if err := h.Execute(&html, v); err != nil {
		return mail.Message{}, fmt.Errorf("render: %s html: %w", kind, err)
	}
	if err := r.text[kind].Execute(&text, v); err != nil {
		return mail.Message{}, fmt.Errorf("render: %s text: %w", kind, err)
	}
	return mail.Message{Subject: v.Subject, Text: text.String(), HTML: html.String()}, nil
}

// formatStart prints the start in the recipient's timezone. All-day events
// carry a floating date and are not converted.
func formatStart(m AlarmModel, allDay string) string {
	if m.Event.AllDay {
		return m.Start.UTC().Format("2006-01-02") + " (" + allDay + ")"
	}
	loc := m.Location
	if loc == nil {
		loc = time.UTC
	}
	return m.Start.In(loc).Format("2006-01-02 15:04") + " " + loc.String()
}
