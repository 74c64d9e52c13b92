// Package did provides an HTTP client for the D-ID talking avatar API.
package did

// Status represents the status of a D-ID talk.
type Status string

// D-ID talk statuses aligned with the D-ID API.
const (
	StatusCreated  Status = "created"
	StatusStarted  Status = "started"
	StatusDone     Status = "done"
	StatusError    Status = "error"
	StatusRejected Status = "rejected"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusError, StatusRejected:
		return true
	default:
		return false
	}
}

// CreateTalkInput contains the parameters for creating a talk.
type CreateTalkInput struct {
	Script       string // Text the presenter speaks
	SourceURL    string // Image of the presenter (default applied when empty)
	VoiceID      string // TTS voice (default: "en-US-JennyNeural")
	ResultFormat string // Output container (default: "mp4")
	Subtitles    bool   // Request burned-in subtitles
}

// Talk contains the state of a talk reported by D-ID.
type Talk struct {
	ID        string
	Status    Status
	ResultURL string
	Duration  float64
	Error     string // Provider failure description (only set on error or rejected)
}

// createRequest represents the request body for D-ID's POST /talks endpoint.
type createRequest struct {
	Script    talkScript  `json:"script"`
	SourceURL string      `json:"source_url"`
	Config    *talkConfig `json:"config,omitempty"`
}

type talkScript struct {
	Type     string        `json:"type"`
	Input    string        `json:"input"`
	Provider *ttsProvider  `json:"provider,omitempty"`
	SSML     *bool         `json:"ssml,omitempty"`
	Subtitle *talkSubtitle `json:"subtitles,omitempty"`
}

type ttsProvider struct {
	Type    string `json:"type"`
	VoiceID string `json:"voice_id"`
}

type talkSubtitle struct {
	Enabled bool `json:"enabled"`
}

type talkConfig struct {
	ResultFormat string `json:"result_format,omitempty"`
}

// talkResponse represents a talk object returned by the D-ID API.
type talkResponse struct {
	ID        string     `json:"id"`
	Status    string     `json:"status"`
	ResultURL string     `json:"result_url,omitempty"`
	Duration  float64    `json:"duration,omitempty"`
	Error     *talkError `json:"error,omitempty"`
}

type talkError struct {
	Kind        string `json:"kind,omitempty"`
	Description string `json:"description,omitempty"`
}
