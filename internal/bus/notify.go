package bus

import "log/slog"

// Notifier delivers user-visible notifications. The recorder uses it once:
// when connection setup exhausts its retries and the worker gives up.
type Notifier interface {
	Notify(message, title string)
}

// LogNotifier writes notifications to the structured log. It is the
// default when the host wires no richer notification service.
type LogNotifier struct{}

// Notify logs the notification at error level.
func (LogNotifier) Notify(message, title string) {
	slog.Error("notification", "title", title, "message", message)
}
