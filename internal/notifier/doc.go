// Package notifier delivers pass alerts to chat subscribers.
//
// Service is an async pipeline (queue, worker pool, rate limit, retry and
// dedup) in front of a transport adapter. Sink sits on top of it and is what
// the pass scheduler talks to: it answers permission questions from the
// subscriber grants kept in storage and fans each alert out to every granted
// chat.
//
// Every delivery attempt that reaches the adapter ends up in the storage audit
// log, and the last few sent texts are kept in memory for /status.
package notifier
