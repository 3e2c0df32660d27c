// Package device holds the host-side components a schedule is wired to:
// persisted text fields, persisted switches and the system clock.
//
// Every state change is handed to a Persister (normally the storage
// write-behind writer) and announced on the event bus as "device.changed".
package device
