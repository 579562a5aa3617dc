// Package rate implements Redis fixed-window counters for login attempts and
// OAuth link starts.
//
// A window opens on the first INCR of a key, which also sets its TTL; the
// counter disappears when the window ends. Keys:
//
//	<prefix>:rl:u:<identifier>  failed logins per identifier
//	<prefix>:rl:i:<ip>          failed logins per client ip
//	<prefix>:rl:k:<subject>     link starts per subject or ip
package rate
