package suno

import "encoding/json"

// Suno API 的线上结构，只在本包内使用

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type generateRequest struct {
	CustomMode   bool   `json:"customMode"`
	Instrumental bool   `json:"instrumental"`
	Model        string `json:"model"`
	Prompt       string `json:"prompt,omitempty"`
	Style        string `json:"style,omitempty"`
	Title        string `json:"title,omitempty"`
	NegativeTags string `json:"negativeTags,omitempty"`
	CallBackURL  string `json:"callBackUrl"`
}

type lyricsRequest struct {
	Prompt      string `json:"prompt"`
	CallBackURL string `json:"callBackUrl"`
}

type taskData struct {
	TaskID string `json:"taskId"`
}

type recordInfo struct {
	TaskID       string `json:"taskId"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
	Response     struct {
		TaskID   string     `json:"taskId"`
		SunoData []sunoClip `json:"sunoData"`
	} `json:"response"`
}

type sunoClip struct {
	ID             string  `json:"id"`
	AudioURL       string  `json:"audioUrl"`
	SourceAudioURL string  `json:"sourceAudioUrl"`
	StreamAudioURL string  `json:"streamAudioUrl"`
	ImageURL       string  `json:"imageUrl"`
	Prompt         string  `json:"prompt"`
	ModelName      string  `json:"modelName"`
	Title          string  `json:"title"`
	Tags           string  `json:"tags"`
	Duration       float64 `json:"duration"`
}

type lyricsRecordInfo struct {
	TaskID       string `json:"taskId"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage"`
	Response     struct {
		TaskID string        `json:"taskId"`
		Data   []lyricsEntry `json:"data"`
	} `json:"response"`
}

type lyricsEntry struct {
	Text         string `json:"text"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage"`
}

// 回调结构，音乐与歌词共用同一个端点
type callbackPayload struct {
	Code int          `json:"code"`
	Msg  string       `json:"msg"`
	Data callbackData `json:"data"`
}

type callbackData struct {
	CallbackType string          `json:"callbackType"`
	TaskID       string          `json:"task_id"`
	TaskIDCamel  string          `json:"taskId"`
	Data         []callbackEntry `json:"data"`
}

type callbackEntry struct {
	ID             string  `json:"id"`
	AudioURL       string  `json:"audio_url"`
	SourceAudioURL string  `json:"source_audio_url"`
	StreamAudioURL string  `json:"stream_audio_url"`
	ImageURL       string  `json:"image_url"`
	Prompt         string  `json:"prompt"`
	ModelName      string  `json:"model_name"`
	Title          string  `json:"title"`
	Tags           string  `json:"tags"`
	Duration       float64 `json:"duration"`
	// 歌词回调字段
	Text         string `json:"text"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

// 任务状态
const (
	statusPending          = "PENDING"
	statusTextSuccess      = "TEXT_SUCCESS"
	statusFirstSuccess     = "FIRST_SUCCESS"
	statusSuccess          = "SUCCESS"
	statusCreateFailed     = "CREATE_TASK_FAILED"
	statusGenerateFailed   = "GENERATE_AUDIO_FAILED"
	statusLyricsFailed     = "GENERATE_LYRICS_FAILED"
	statusCallbackError    = "CALLBACK_EXCEPTION"
	statusSensitiveWord    = "SENSITIVE_WORD_ERROR"
	callbackTypeText       = "text"
	callbackTypeFirst      = "first"
	callbackTypeComplete   = "complete"
	callbackTypeError      = "error"
	envelopeSuccess        = 200
	defaultCallbackMessage = "callback reported failure"
)
