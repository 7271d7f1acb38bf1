package pgflow

// Notification is one LISTEN/NOTIFY delivery, decoded from a backend
// NotificationResponse (§6). These arrive out of band: never in
// response to a Task this client enqueued, and never affecting task
// ordering (§5).
type Notification struct {
	Channel string
	Payload string
	PID     int32
}

// NotificationSink receives out-of-band notifications as they arrive.
// NotificationReceived runs on the connection's own actor goroutine,
// so it must not block or call back into this Client — hand the
// value to a channel or queue instead.
type NotificationSink interface {
	NotificationReceived(n Notification)
}

// NotificationFunc adapts a plain function to NotificationSink.
type NotificationFunc func(Notification)

func (f NotificationFunc) NotificationReceived(n Notification) { f(n) }
