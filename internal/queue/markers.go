package queue

const (
	canonicalPrefix = "v2::"
	legacyPrefix    = "legacy-filename::"
)

// CanonicalMarker builds the canonical dedup marker for a recording.
func CanonicalMarker(courseDigit, rid string) string {
	return canonicalPrefix + courseDigit + "::" + rid
}

// LegacyMarker builds the legacy filename-based marker kept for backward
// compatibility with state written by older releases.
func LegacyMarker(fileName string) string {
	return legacyPrefix + fileName
}

// IsDownloaded reports whether the marker set records this recording, under
// the canonical marker, the legacy-prefixed marker, or the bare legacy
// filename that the oldest releases stored.
func IsDownloaded(markers map[string]struct{}, canonicalMarker, legacyFileName string) bool {
	if _, ok := markers[canonicalMarker]; ok {
		return true
	}
	if legacyFileName == "" {
		return false
	}
	if _, ok := markers[LegacyMarker(legacyFileName)]; ok {
		return true
	}
	_, ok := markers[legacyFileName]
	return ok
}
