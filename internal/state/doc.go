// Package state holds the daemon's in-memory runtime: the SystemStatus stage
// flags and counters, the active Session, and the MessageBuffer. A single
// Runtime value is owned by the daemon and passed explicitly to the lifecycle
// controller and the periodic tasks; every mutation is serialized internally.
package state
