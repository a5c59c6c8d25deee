/*
Package blockstore is the Memory Store facade: the single entry point that
composes the Accountant (pkg/accountant), the Lock Table (pkg/locktable),
the Block Index and its eviction scan (pkg/blockindex), and the Unroll
Engine (pkg/unroll) into put/get/remove/clear operations.

A put acquires storage directly when the final size is already known
(PutBytes), or runs through the unroll engine when it isn't
(PutIteratorAsValues, PutIteratorAsBytes). Every admission path shares the
same policy: try the acquire, and if refused, evict once and try again. For
PutBytes that retry is serialized per memory mode by Store.putMu, so two
concurrent PutBytes calls never both observe the same freed bytes as
available. The iterator puts retry inside the unroll engine and do not take
putMu, so one of them and another put can still each consume part of the
same freed space.

A get takes a blocking read lock, looks the block up (promoting it in
access order), and releases the lock before returning; the entry itself
remains valid only as long as the caller trusts the store not to evict it
from under a concurrent read, which is exactly what the read lock prevents.

SetEventBroker attaches an optional pkg/events broker; when set, the facade
publishes a best-effort lifecycle notification alongside every admission,
rejection, partial unroll, and removal, purely for observability.
*/
package blockstore
