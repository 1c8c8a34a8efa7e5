// Package redsumer implements producing to and consuming from redis streams
// through consumer groups, reducing the probability that two consumers of the
// same group successfully process the same entry while still recovering
// entries whose original owner has stalled or died.
//
// A Consumer drains a stream in rounds. Each call to Consume tries three
// phases in order and returns the first non-empty batch: entries never
// delivered to the group, then entries already pending on this consumer, then
// entries claimed away from group peers which have held them idle for too
// long. Callers process the batch, guard irreversible side effects with
// StillMine, and remove finished entries from the pending list with Ack.
//
// See https://redis.io/topics/streams-intro
package redsumer
