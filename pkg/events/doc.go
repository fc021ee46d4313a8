/*
Package events implements the publish/subscribe signal bus used to
surface overlay membership changes and local store/remove activity to
interested observers (metrics, logging, and any future admin surface)
without coupling those callers to the storage internals.

Broker buffers events on an internal channel and fans them out to every
subscriber's own buffered channel; a slow subscriber drops events rather
than blocking publishers, since these signals are informational, not a
durable log.
*/
package events
