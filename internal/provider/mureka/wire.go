package mureka

type songRequest struct {
	Lyrics      string `json:"lyrics"`
	Model       string `json:"model"`
	Prompt      string `json:"prompt,omitempty"`
	ReferenceID string `json:"reference_id,omitempty"`
}

type instrumentalRequest struct {
	Model       string `json:"model"`
	Prompt      string `json:"prompt,omitempty"`
	ReferenceID string `json:"instrumental_id,omitempty"`
}

type lyricsRequest struct {
	Prompt string `json:"prompt"`
}

type lyricsResponse struct {
	Title  string `json:"title"`
	Lyrics string `json:"lyrics"`
}

type taskResponse struct {
	ID           string   `json:"id"`
	CreatedAt    int64    `json:"created_at"`
	FinishedAt   int64    `json:"finished_at"`
	Model        string   `json:"model"`
	Status       string   `json:"status"`
	FailedReason string   `json:"failed_reason"`
	Choices      []choice `json:"choices"`
}

type choice struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	URL      string `json:"url"`
	FlacURL  string `json:"flac_url"`
	Duration int64  `json:"duration"` // 毫秒
	Lyrics   string `json:"lyrics"`
}

type uploadResponse struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Purpose  string `json:"purpose"`
}

// errorResponse 错误体有两种形态
type errorResponse struct {
	Message string `json:"message"`
	Error   struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (e errorResponse) text() string {
	if e.Error.Message != "" {
		return e.Error.Message
	}
	return e.Message
}

const (
	statusPreparing = "preparing"
	statusQueued    = "queued"
	statusRunning   = "running"
	statusStreaming = "streaming"
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
	statusTimeouted = "timeouted"
	statusCancelled = "cancelled"
)

const (
	kindSong         = "song"
	kindInstrumental = "instrumental"
)
