/*
Package health provides the checker abstraction used to track peer and
component liveness across a Doughnut node.

Checker is the common interface (Check, Type); TCPChecker is the
concrete implementation used before a Dock connection attempt, to
distinguish "peer unreachable" from a handshake or protocol failure
once a connection is open. Status accumulates consecutive check
results into a single Healthy verdict, with a configurable retry
threshold and startup grace period, so a single dropped heartbeat does
not immediately mark a peer as down.
*/
package health
