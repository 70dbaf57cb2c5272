// Package escalation holds the read-only escalation policy and the timer
// scheduler that drives automatic tier advances.
//
// A Policy is an ordered list of tiers. Each tier names the responder roles
// allowed to acknowledge an alert at that tier and the time the alert may sit
// at that tier before the scheduler fires.
//
// Scheduler keeps at most one pending timer per alert id. Arm replaces any
// existing timer for the same alert, Cancel removes it. When a timer fires the
// scheduler calls its FireFunc with the alert id and the tier the timer was
// armed for; the callee re-checks the alert under its own lock.
package escalation
