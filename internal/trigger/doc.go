// Package trigger manages triggered recognition sessions.
//
// A client opens a session with triggerOn (Manager.Start) and closes it with
// triggerOff (Manager.Stop), which asks the device store to synthesize a
// recognition. A session not stopped before its deadline expires with no
// result. Either way one triggerResult event is published.
//
// State machine:
//
//	Pending --Stop--> Resolved
//	Pending --deadline / replaced by Start--> Expired
package trigger
