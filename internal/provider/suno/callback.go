package suno

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/qs3c/melody_go_server/internal/provider"
)

// ErrMalformedCallback 回调体无法解析或缺少 task id
var ErrMalformedCallback = errors.New("suno: malformed callback payload")

// ParseCallback 将 Suno 推送解析为规范事件。音乐与歌词回调结构相同，
// 由调用方根据 task id 命中的记录类型决定如何处理。
func ParseCallback(body []byte) (*provider.CallbackEvent, error) {
	var payload callbackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}

	taskID := strings.TrimSpace(payload.Data.TaskID)
	if taskID == "" {
		taskID = strings.TrimSpace(payload.Data.TaskIDCamel)
	}
	if taskID == "" {
		return nil, fmt.Errorf("%w: missing task id", ErrMalformedCallback)
	}

	event := &provider.CallbackEvent{Provider: provider.Suno, TaskID: taskID}

	for _, entry := range payload.Data.Data {
		if entry.AudioURL != "" || entry.SourceAudioURL != "" || entry.StreamAudioURL != "" || entry.ID != "" {
			audio := entry.AudioURL
			if audio == "" {
				audio = entry.SourceAudioURL
			}
			event.Results = append(event.Results, provider.Result{
				Title:    entry.Title,
				AudioURL: audio,
				ImageURL: entry.ImageURL,
				Duration: entry.Duration,
				Lyrics:   entry.Prompt,
				ClipID:   entry.ID,
				Tags:     splitTags(entry.Tags),
			})
		}
		if entry.Text != "" || entry.ErrorMessage != "" {
			event.Lyrics = append(event.Lyrics, provider.Lyrics{TaskID: taskID, Title: entry.Title, Text: entry.Text})
		}
	}

	if payload.Code != envelopeSuccess {
		msg := payload.Msg
		if msg == "" {
			msg = defaultCallbackMessage
		}
		event.Kind = provider.CallbackError
		event.Err = codeError(payload.Code, msg)
		if event.Err.Kind == provider.KindGeneration && provider.IsPolicyMessage(msg) {
			event.Err.Kind = provider.KindContentPolicy
		}
		return event, nil
	}

	switch strings.ToLower(payload.Data.CallbackType) {
	case callbackTypeText:
		event.Kind = provider.CallbackProcessing
		event.Progress = 60
		event.Note = "lyrics ready"
	case callbackTypeFirst:
		event.Kind = provider.CallbackProcessing
		event.Progress = 80
		event.Note = "first track ready"
	case callbackTypeComplete, "":
		event.Kind = provider.CallbackComplete
		event.Progress = 100
	case callbackTypeError:
		event.Kind = provider.CallbackError
		msg := payload.Msg
		if msg == "" {
			msg = defaultCallbackMessage
		}
		kind := provider.KindGeneration
		if provider.IsPolicyMessage(msg) {
			kind = provider.KindContentPolicy
		}
		event.Err = provider.NewError(provider.Suno, kind, msg)
	default:
		return nil, fmt.Errorf("%w: unknown callback type %q", ErrMalformedCallback, payload.Data.CallbackType)
	}

	return event, nil
}
