// Package storage persists what must survive a restart: the alert audit
// trail, notifier dedup windows and the chats that granted notification
// permission. Schedules themselves are never persisted.
package storage
