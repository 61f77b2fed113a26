/*
Package export serializes machine graph snapshots.

Snapshots are encoded as JSON or YAML. Both encodings are deterministic: the
snapshot lists states in registration order and edges sorted by outcome, so
exporting an unchanged machine twice yields identical bytes.
*/
package export
