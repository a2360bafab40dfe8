// Package redial keeps sessions alive across connection loss.
//
// A Redialer wraps a dial function and watches the session it
// produces. When the session reaches its terminal state the redialer
// dials again, backing off between attempts:
//
//  1. Initial delay: 1 second
//  2. Exponential increase: 2s, 4s, 8s, 16s, 32s
//  3. Maximum delay: 60 seconds, repeated until success
//  4. Reset to 1 second after a successful dial
//
// Up to 25% jitter is added to every delay so that peers dropped by
// the same outage do not redial in lockstep.
//
// The redialer never owns the session. Closing the redialer stops the
// watch loop and nothing else; sessions handed out through OnSession
// or Session remain the caller's to close.
package redial
