package calendar

import (
	"fmt"
	"time"

	"github.com/emersion/go-ical"
)

const productID = "-//Memu Family Calendar//memu.digital//"

// encodeEvent wraps ev in a VCALENDAR ready for upload. Times are
// written in UTC so the object needs no VTIMEZONE.
func encodeEvent(uid string, ev NewEvent, stamp time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Props.SetText(ical.PropVersion, "2.0")

	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, uid)
	event.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	event.Props.SetText(ical.PropSummary, ev.Summary)
	event.Props.SetDateTime(ical.PropDateTimeStart, ev.Start.UTC())
	event.Props.SetDateTime(ical.PropDateTimeEnd, ev.End.UTC())
	if ev.Location != "" {
		event.Props.SetText(ical.PropLocation, ev.Location)
	}
	if ev.Description != "" {
		event.Props.SetText(ical.PropDescription, ev.Description)
	}

	cal.Children = append(cal.Children, event.Component)
	return cal
}

// decodeEvent converts a VEVENT. All-day events start at midnight in
// loc. A missing end collapses to the start (or one day for all-day
// events).
func decodeEvent(ev ical.Event, loc *time.Location) (Event, error) {
	startProp := ev.Props.Get(ical.PropDateTimeStart)
	if startProp == nil {
		return Event{}, fmt.Errorf("event has no DTSTART")
	}

	start, err := ev.DateTimeStart(loc)
	if err != nil {
		return Event{}, fmt.Errorf("parse DTSTART: %w", err)
	}
	allDay := startProp.ValueType() == ical.ValueDate || len(startProp.Value) == len("20060102")

	end, err := ev.DateTimeEnd(loc)
	if err != nil || end.IsZero() {
		end = start
		if allDay {
			end = start.AddDate(0, 0, 1)
		}
	}

	summary := propText(ev.Props, ical.PropSummary)
	if summary == "" {
		summary = "Untitled"
	}

	return Event{
		UID:         propText(ev.Props, ical.PropUID),
		Summary:     summary,
		Start:       start.In(loc),
		End:         end.In(loc),
		Location:    propText(ev.Props, ical.PropLocation),
		Description: propText(ev.Props, ical.PropDescription),
		AllDay:      allDay,
	}, nil
}

func propText(props ical.Props, name string) string {
	s, err := props.Text(name)
	if err != nil {
		return ""
	}
	return s
}
