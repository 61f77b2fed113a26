/*
Package domain contains the shared vocabulary of the tinystate engine.

It defines the values that cross package boundaries without depending on the
generic machine types: node kinds, machine status, lifecycle events, bus
messages, the read-only graph snapshot and the error taxonomy. The package is
kept free of I/O so adapters (memory, redis, http, observability) can depend on
it without importing the engine itself.

# Key Entities

  - Kind: Plain, Composite or Command, chosen when a state is registered.
  - Status: the lifecycle position of a machine (NotStarted, Entering, Active, ...).
  - Message: the envelope exchanged through a publish/subscribe facility.
  - Graph: ordered snapshot of registered states, transitions and sub-machines.
  - LifecycleHooks: callbacks for auditing and metrics.
*/
package domain
