// Package monitor runs a background ticker loop, adapted from the cluster
// reconciler idiom, that samples the Accountant's occupancy for operators.
// It never evicts: the block store's eviction only ever happens synchronously
// on the admission path.
package monitor
