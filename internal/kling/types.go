// Package kling provides an HTTP client for the Kling AI video generation API.
package kling

// TaskStatus represents the status of a Kling task.
type TaskStatus string

// Kling task statuses aligned with the Kling API.
const (
	StatusSubmitted  TaskStatus = "submitted"
	StatusProcessing TaskStatus = "processing"
	StatusSucceed    TaskStatus = "succeed"
	StatusFailed     TaskStatus = "failed"
)

// IsTerminal returns true if the status is a terminal state.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusSucceed, StatusFailed:
		return true
	default:
		return false
	}
}

// CreateTaskInput contains the parameters for creating a text-to-video task.
type CreateTaskInput struct {
	Prompt      string // Text prompt describing the video
	ModelName   string // Model to use (default: "kling-v1")
	Mode        string // Generation mode, "std" or "pro" (default: "std")
	Duration    string // Clip length in seconds as a string (default: "5")
	AspectRatio string // Output aspect ratio (default: "16:9")
	ExternalRef string // Opaque reference stored with the task
}

// Task contains the state of a task reported by Kling.
type Task struct {
	ID        string
	Status    TaskStatus
	StatusMsg string // Failure reason when Status is StatusFailed
	VideoURL  string
	Duration  string
}

// createTaskRequest represents the request body for Kling's text2video endpoint.
type createTaskRequest struct {
	ModelName      string `json:"model_name,omitempty"`
	Prompt         string `json:"prompt"`
	Mode           string `json:"mode,omitempty"`
	Duration       string `json:"duration,omitempty"`
	AspectRatio    string `json:"aspect_ratio,omitempty"`
	ExternalTaskID string `json:"external_task_id,omitempty"`
}

// apiResponse is the envelope every Kling endpoint responds with.
type apiResponse struct {
	Code      int      `json:"code"`
	Message   string   `json:"message"`
	RequestID string   `json:"request_id"`
	Data      taskData `json:"data"`
}

type taskData struct {
	TaskID        string      `json:"task_id"`
	TaskStatus    string      `json:"task_status"`
	TaskStatusMsg string      `json:"task_status_msg,omitempty"`
	TaskResult    *taskResult `json:"task_result,omitempty"`
}

type taskResult struct {
	Videos []taskVideo `json:"videos,omitempty"`
}

type taskVideo struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Duration string `json:"duration"`
}
