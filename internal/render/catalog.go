package render

import (
	"golang.org/x/text/feature/plural"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys. English text doubles as the key.
const (
	keyDays         = "%d days"
	keyHours        = "%d hours"
	keyMinutes      = "%d minutes"
	keyNotification = "This event is about to begin in %s"
	keySubject      = "Notification: %s"
	keyStart        = "Start"
	keyAllDay       = "All day"
	keyLocation     = "Location"
	keyLink         = "Link"
	keyOrganizer    = "Organizer"
	keyAttendees    = "Attendees"
	keyResources    = "Resources"
	keyNotes        = "Notes"
)

// supported lists the locales with translations; the first is the fallback.
var supported = []language.Tag{
	language.English,
	language.French,
	language.Russian,
	language.Vietnamese,
}

var matcher = language.NewMatcher(supported)

type entry struct {
	key string
	msg catalog.Message
}

func str(s string) catalog.Message { return catalog.String(s) }

var translations = map[language.Tag][]entry{
	language.English: {
		{keyDays, plural.Selectf(1, "%d", "one", "%d day", "other", "%d days")},
		{keyHours, plural.Selectf(1, "%d", "one", "%d hour", "other", "%d hours")},
		{keyMinutes, plural.Selectf(1, "%d", "one", "%d minute", "other", "%d minutes")},
		{keyNotification, str("This event is about to begin in %s")},
		{keySubject, str("Notification: %s")},
		{keyStart, str("Start")},
		{keyAllDay, str("All day")},
		{keyLocation, str("Location")},
		{keyLink, str("Link")},
		{keyOrganizer, str("Organizer")},
		{keyAttendees, str("Attendees")},
		{keyResources, str("Resources")},
		{keyNotes, str("Notes")},
	},
	language.French: {
		{keyDays, plural.Selectf(1, "%d", "one", "%d jour", "other", "%d jours")},
		{keyHours, plural.Selectf(1, "%d", "one", "%d heure", "other", "%d heures")},
		{keyMinutes, plural.Selectf(1, "%d", "one", "%d minute", "other", "%d minutes")},
		{keyNotification, str("Cet événement va commencer dans %s")},
		{keySubject, str("Notification : %s")},
		{keyStart, str("Début")},
		{keyAllDay, str("Toute la journée")},
		{keyLocation, str("Lieu")},
		{keyLink, str("Lien")},
		{keyOrganizer, str("Organisateur")},
		{keyAttendees, str("Participants")},
		{keyResources, str("Ressources")},
		{keyNotes, str("Notes")},
	},
	language.Russian: {
		{keyDays, plural.Selectf(1, "%d", "one", "%d день", "few", "%d дня", "many", "%d дней", "other", "%d дня")},
		{keyHours, plural.Selectf(1, "%d", "one", "%d час", "few", "%d часа", "many", "%d часов", "other", "%d часа")},
		{keyMinutes, plural.Selectf(1, "%d", "one", "%d минута", "few", "%d минуты", "many", "%d минут", "other", "%d минуты")},
		{keyNotification, str("Это событие начнётся через %s")},
		{keySubject, str("Уведомление: %s")},
		{keyStart, str("Начало")},
		{keyAllDay, str("Весь день")},
		{keyLocation, str("Место")},
		{keyLink, str("Ссылка")},
		{keyOrganizer, str("Организатор")},
		{keyAttendees, str("Участники")},
		{keyResources, str("Ресурсы")},
		{keyNotes, str("Заметки")},
	},
	language.Vietnamese: {
		{keyDays, plural.Selectf(1, "%d", "other", "%d ngày")},
		{keyHours, plural.Selectf(1, "%d", "other", "%d giờ")},
		{keyMinutes, plural.Selectf(1, "%d", "other", "%d phút")},
		{keyNotification, str("Sự kiện này sắp bắt đầu sau %s")},
		{keySubject, str("Thông báo: %s")},
		{keyStart, str("Bắt đầu")},
		{keyAllDay, str("Cả ngày")},
		{keyLocation, str("Địa điểm")},
		{keyLink, str("Liên kết")},
		{keyOrganizer, str("Người tổ chức")},
		{keyAttendees, str("Người tham dự")},
		{keyResources, str("Tài nguyên")},
		{keyNotes, str("Ghi chú")},
	},
}

var messages = buildCatalog()

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, entries := range translations {
		for _, e := range entries {
			if err := b.Set(tag, e.key, e.msg); err != nil {
				panic("render: catalog: " + err.Error())
			}
		}
	}
	return b
}

// Match returns the supported locale closest to locale. Unknown or empty
// locales resolve to English.
func Match(locale string) language.Tag {
	tag, err := language.Parse(locale)
	if err != nil {
		return language.English
	}
	_, idx, conf := matcher.Match(tag)
	if conf == language.No {
		return language.English
	}
	return supported[idx]
}

func printerFor(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag, message.Catalog(messages))
}
