/*
Package types is documented in types.go's package comment; this file
only expands on the two model families that don't fit neatly under a
single type: tagging and the tuple's derived name forms.

# Server tagging

A Server carries all of its mutable state as a cloud-provider tag set
rather than in a separate control-plane database: owner/project/env/
zone and a status tag (StatusFromTags parses the latter back out).
This keeps the inventory the single source of truth — there is nothing
to reconcile between "what the tags say" and "what some other store
says", since there is no other store.

# Tuple-derived names

Tuple itself carries no derived forms — container names, host ports,
and database identifiers are pure functions of a Tuple computed by
pkg/naming, never stored as fields here. SidecarBlock, DeploymentRecord,
and Secret each embed a Tuple and are looked up by it, but none of them
cache a name pkg/naming could instead recompute.
*/
package types
