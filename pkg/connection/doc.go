// Package connection keeps the simulator connected to the robot.
//
// The Manager waits until the robot is known to be ready (its address was
// configured or discovered), dials it, and watches the session. A failed
// dial or an ended session is followed by a redial after an exponential
// backoff with jitter:
//
//  1. Initial delay: 250ms
//  2. Exponential increase: 500ms, 1s, 2s, 4s
//  3. Maximum delay: 8 seconds
//  4. Reset to 250ms after a successful dial
//
// Jitter spreads simultaneous redials:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
package connection
