// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID  = "request_id"
	FieldContextID  = "context_id"
	FieldFeedID     = "feed_id"
	FieldDownloadID = "download_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldPhase     = "phase"
	FieldStatus    = "status"
	FieldRetries   = "retries"

	// State fields
	FieldOldStatus = "old_status"
	FieldNewStatus = "new_status"

	// Path / URL fields
	FieldPath      = "path"
	FieldURL       = "url"
	FieldBaseURL   = "base_url"
	FieldFinalPath = "final_path"
)
