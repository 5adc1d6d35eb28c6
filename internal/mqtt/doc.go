// Package mqtt makes the assistant a Home Assistant device. It
// publishes retained discovery configs for a handful of health
// sensors (backup health, last backup, days since the USB copy,
// pending reminders, uptime, version) and two buttons, then pushes
// sensor states on a fixed interval.
//
// The connection is managed by Eclipse Paho v2's [autopaho] package.
// On every (re-)connect the publisher re-sends discovery configs, a
// birth message ("online") to the availability topic, and re-subscribes
// to the command topic the buttons write to. A will message flips
// availability to "offline" on unexpected disconnects.
package mqtt
