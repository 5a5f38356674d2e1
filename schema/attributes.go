package schema

// Wire-level span attribute keys. The canonical set is written by the
// pre-end hook (spans created through the SDK) or carried beside the span
// (third-party spans, annotated at export); the honeyhive.* enrichment trio
// is written at span start on every path.
const (
	AttrSessionID = "honeyhive.session_id"
	AttrProject   = "honeyhive.project"
	AttrSource    = "honeyhive.source"
	AttrParentID  = "honeyhive.parent_id"

	AttrEventType     = "honeyhive_event_type"
	AttrProcessed     = "honeyhive_processed"
	AttrSchemaVersion = "honeyhive_schema_version"

	AttrPrefixInputs   = "honeyhive_inputs."
	AttrPrefixOutputs  = "honeyhive_outputs."
	AttrPrefixConfig   = "honeyhive_config."
	AttrPrefixMetadata = "honeyhive_metadata."
	AttrPrefixFeedback = "honeyhive_feedback."
	AttrPrefixMetrics  = "honeyhive_metrics."
	AttrPrefixUserProps = "honeyhive_user_properties."

	// AttrLegacyPrefix prefixes the write-only mirrored enrichment set.
	AttrLegacyPrefix = "traceloop.association.properties."
)
