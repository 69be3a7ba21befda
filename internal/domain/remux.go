package domain

// CaptionTrack is a caption payload resolved for a single job. It is derived
// per job and never persisted.
type CaptionTrack struct {
	Content  string
	Language string
}

// RemuxResult is the outcome of a successful remux: the MP4 payload, whether
// a subtitle track made it into the container, and the ordered trace of
// pipeline decisions.
type RemuxResult struct {
	Blob             []byte
	CaptionsEmbedded bool
	DebugLog         []string
}
