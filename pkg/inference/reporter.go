/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: reporter.go
Description: Reporter hooks for inference progress. Hooks are called from the engine's
goroutine in candidate order after each depth is fully evaluated. The logging package
provides a logrus-backed implementation.
*/

package inference

// Reporter receives inference events
type Reporter interface {
	// OnCandidateScored is called once per candidate, baseline first.
	OnCandidateScored(depth int, c Candidate)
	// OnLayerAccepted is called when a layer is appended to the result.
	OnLayerAccepted(l *Layer)
	// OnStop is called once when recursion ends.
	OnStop(reason StopReason, depth int)
}
