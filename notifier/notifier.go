package notifier

// Notification is published by the console bridge. Topic is relative to the
// bridge subject prefix.
type Notification struct {
	Topic string
	Data  interface{}
}
