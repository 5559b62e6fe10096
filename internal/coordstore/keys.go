package coordstore

import "fmt"

// StreamRequests is the single pending-submissions stream every worker consumes
// from. Centralizing every key behind a function here (rather than ad-hoc
// fmt.Sprintf calls scattered across packages) is what the spec calls
// "a single helper to prevent drift."
const StreamRequests = "pipeline:requests"

// KeyLock returns the mutex-holder key for a subject.
func KeyLock(subjectID string) string {
	return fmt.Sprintf("pipeline:%s:lock", subjectID)
}

// KeyCancel returns the cancellation-request flag key for a subject.
func KeyCancel(subjectID string) string {
	return fmt.Sprintf("pipeline:%s:cancel", subjectID)
}

// KeyActive returns the live run-status hash key for a subject.
func KeyActive(subjectID string) string {
	return fmt.Sprintf("pipeline:%s:active", subjectID)
}

// KeyRunArchive returns the archived run-snapshot hash key.
func KeyRunArchive(runID string) string {
	return fmt.Sprintf("pipeline:run:%s", runID)
}

// KeyHistory returns the per-subject history sorted-set key.
func KeyHistory(subjectID string) string {
	return fmt.Sprintf("pipeline:%s:history", subjectID)
}

// KeyModelConfig returns the hash key for one model descriptor.
func KeyModelConfig(modelKey string) string {
	return fmt.Sprintf("model:config:%s", modelKey)
}

// KeyModelConfigKeys is the set of all registered model keys.
const KeyModelConfigKeys = "model:config:_keys"
