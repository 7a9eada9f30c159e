package provider

import "strings"

// CallbackKind 推送通知类型
type CallbackKind string

const (
	CallbackProcessing CallbackKind = "processing"
	CallbackComplete   CallbackKind = "complete"
	CallbackError      CallbackKind = "error"
)

// CallbackEvent 供应商推送在适配层解析后的规范形式
type CallbackEvent struct {
	Provider Name
	TaskID   string
	Kind     CallbackKind
	Progress int
	Note     string
	Results  []Result
	Lyrics   []Lyrics
	Err      *Error
}

// FirstUsable 返回第一个包含音频地址的结果
func (e *CallbackEvent) FirstUsable() *Result {
	for i := range e.Results {
		if e.Results[i].Usable() {
			return &e.Results[i]
		}
	}
	return nil
}

// FirstLyrics 返回第一段非空歌词
func (e *CallbackEvent) FirstLyrics() *Lyrics {
	for i := range e.Lyrics {
		if strings.TrimSpace(e.Lyrics[i].Text) != "" {
			return &e.Lyrics[i]
		}
	}
	return nil
}
