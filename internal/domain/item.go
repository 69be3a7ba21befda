package domain

import "time"

// ItemStatus represents the current state of a queue item.
type ItemStatus string

const (
	StatusQueued      ItemStatus = "queued"
	StatusDownloading ItemStatus = "downloading"
	StatusDone        ItemStatus = "done"
	StatusFailed      ItemStatus = "failed"
	StatusCanceled    ItemStatus = "canceled"
)

// Active reports whether the item is still outstanding work.
func (s ItemStatus) Active() bool {
	return s == StatusQueued || s == StatusDownloading
}

// Retryable reports whether the item can be moved back to queued.
func (s ItemStatus) Retryable() bool {
	return s == StatusFailed || s == StatusCanceled
}

// QueueItem is one download+remux job. Key is the stable composite identity
// (course + recording + selected format) and is unique within a queue snapshot.
type QueueItem struct {
	Key             string     `json:"key"`
	CourseDigit     string     `json:"course_digit"`
	RID             string     `json:"rid"`
	DownloadMarker  string     `json:"download_marker"`
	FileName        string     `json:"file_name"`
	VideoType       string     `json:"video_type"`
	RemuxToMP4      bool       `json:"remux_to_mp4"`
	CaptionSrc      string     `json:"caption_src,omitempty"`
	CaptionLanguage string     `json:"caption_language,omitempty"`
	EmbedCaptions   bool       `json:"embed_captions"`
	RecordingName   string     `json:"recording_name"`
	Status          ItemStatus `json:"status"`
	Error           string     `json:"error,omitempty"`
}

// ItemKey builds the composite identity used to deduplicate enqueues.
func ItemKey(courseDigit, rid, videoType string) string {
	return courseDigit + "::" + rid + "::" + videoType
}

// QueueState is the persisted snapshot of the queue. Items never retains
// entries whose status is done; Total therefore reflects only outstanding,
// failed or canceled work.
type QueueState struct {
	Active    bool        `json:"active"`
	Completed int         `json:"completed"`
	Total     int         `json:"total"`
	Items     []QueueItem `json:"items"`
	UpdatedAt time.Time   `json:"updated_at"`
}
