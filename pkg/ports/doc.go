/*
Package ports defines the driven ports (interfaces) of the tinystate engine.

These interfaces decouple the engine from the publish/subscribe facility that
feeds command states, so the same machine can run against an in-process bus in
tests and a Redis channel in production.

# Key Interfaces

  - Publisher: sends a Message to every matching subscriber.
  - Subscriber: registers a filtered callback and returns a Subscription handle.
  - Bus: both of the above.
*/
package ports
