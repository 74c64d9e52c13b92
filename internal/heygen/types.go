// Package heygen provides an HTTP client for the HeyGen avatar video API.
package heygen

// Status represents the status of a HeyGen video job.
type Status string

// HeyGen video statuses aligned with the HeyGen API.
const (
	StatusPending    Status = "pending"
	StatusWaiting    Status = "waiting"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// CreateVideoInput contains the parameters for generating a video.
type CreateVideoInput struct {
	Title       string // Optional video title shown in the HeyGen dashboard
	Script      string // Text the avatar speaks
	AvatarID    string // Avatar to render (default applied when empty)
	AvatarStyle string // Avatar framing style (default: "normal")
	VoiceID     string // Voice used for speech synthesis
	Emotion     string // Optional voice emotion hint
	Width       int    // Output width in pixels
	Height      int    // Output height in pixels
	CallbackID  string // Opaque id echoed back in webhook events
	Caption     bool   // Burn subtitles into the video
}

// VideoStatus contains the state of a video reported by HeyGen.
type VideoStatus struct {
	ID           string
	Status       Status
	VideoURL     string
	ThumbnailURL string
	Duration     float64
	Error        string // Provider failure description (only set when Status is StatusFailed)
}

// generateRequest represents the request body for HeyGen's /v2/video/generate endpoint.
type generateRequest struct {
	Title       string       `json:"title,omitempty"`
	CallbackID  string       `json:"callback_id,omitempty"`
	Caption     bool         `json:"caption,omitempty"`
	Dimension   dimension    `json:"dimension"`
	VideoInputs []videoInput `json:"video_inputs"`
}

type dimension struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type videoInput struct {
	Character character `json:"character"`
	Voice     voice     `json:"voice"`
}

type character struct {
	Type        string `json:"type"`
	AvatarID    string `json:"avatar_id"`
	AvatarStyle string `json:"avatar_style,omitempty"`
}

type voice struct {
	Type      string `json:"type"`
	InputText string `json:"input_text"`
	VoiceID   string `json:"voice_id"`
	Emotion   string `json:"emotion,omitempty"`
}

// generateResponse represents the response from HeyGen's /v2/video/generate endpoint.
type generateResponse struct {
	Error *apiError    `json:"error"`
	Data  generateData `json:"data"`
}

type generateData struct {
	VideoID string `json:"video_id"`
}

// statusResponse represents the response from HeyGen's /v1/video_status.get endpoint.
type statusResponse struct {
	Code    int        `json:"code"`
	Message string     `json:"message,omitempty"`
	Data    statusData `json:"data"`
}

type statusData struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	VideoURL     string    `json:"video_url,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	Duration     float64   `json:"duration,omitempty"`
	Error        *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// WebhookPayload represents an inbound HeyGen webhook event.
type WebhookPayload struct {
	EventType string           `json:"event_type"`
	EventData WebhookEventData `json:"event_data"`
}

// WebhookEventData carries the job state inside a webhook event.
type WebhookEventData struct {
	VideoID    string `json:"video_id"`
	URL        string `json:"url,omitempty"`
	CallbackID string `json:"callback_id,omitempty"`
	Msg        string `json:"msg,omitempty"`
}

// Webhook event types sent by HeyGen.
const (
	EventVideoSuccess = "avatar_video.success"
	EventVideoFail    = "avatar_video.fail"
)
