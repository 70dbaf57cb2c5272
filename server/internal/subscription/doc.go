// Package subscription indexes which connected subscribers want alert or
// metrics updates for which hospital.
//
// The Registry is a lookup index only. Each subscriber owns its own set of
// subscriptions and hands the full key list back to RemoveAll when it goes
// away. Lookups return copies, so a caller iterating a result never observes
// concurrent Subscribe or Unsubscribe calls.
package subscription
