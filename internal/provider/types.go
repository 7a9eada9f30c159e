// Package provider 定义音乐生成供应商的统一接口。
// 供应商特有的请求/响应结构只存在于各自的子包中，编排层只接触这里的类型。
package provider

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Name 供应商标识
type Name string

const (
	Suno   Name = "suno"
	Mureka Name = "mureka"
	// Auto 由系统选择供应商
	Auto Name = "auto"
)

// ParseName 解析用户输入，空值视为 Auto
func ParseName(s string) (Name, bool) {
	switch Name(strings.ToLower(strings.TrimSpace(s))) {
	case "", Auto:
		return Auto, true
	case Suno:
		return Suno, true
	case Mureka:
		return Mureka, true
	default:
		return "", false
	}
}

// Request 规范化的生成请求
type Request struct {
	JobID        string
	Model        string
	Title        string
	Prompt       string // 自由文本描述，不是歌词
	Style        string
	Duration     int
	Instrumental bool
	// Lyrics 用户显式提供的歌词
	Lyrics            string
	Instruments       []string
	ReferenceTrackURL string
	CallbackURL       string
	// OnLyricsTask 歌词子任务受理后立即调用，早于歌词结果与生成请求，
	// 让调用方在回调可能到达之前记录该 task id
	OnLyricsTask func(ctx context.Context, taskID string)
}

// DispatchResult 派发结果
type DispatchResult struct {
	TaskID string
	Model  string
	// 由歌词子任务生成的歌词（若有）
	Lyrics       string
	LyricsTitle  string
	LyricsTaskID string
}

// State 供应商任务状态
type State string

const (
	StatePending State = "pending"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Result 成功生成的音频
type Result struct {
	Title       string
	AudioURL    string
	AudioData   []byte
	ContentType string
	ImageURL    string
	Duration    float64
	Lyrics      string
	ClipID      string
	Tags        []string
}

// Usable 是否包含可播放的音频
func (r *Result) Usable() bool {
	return r != nil && (strings.TrimSpace(r.AudioURL) != "" || len(r.AudioData) > 0)
}

// Status 查询结果
type Status struct {
	State    State
	Progress int
	Note     string
	Result   *Result
	Err      *Error
}

// Lyrics 歌词子任务结果
type Lyrics struct {
	TaskID string
	Title  string
	Text   string
}

// Adapter 每个供应商一个实现
type Adapter interface {
	Name() Name
	Dispatch(ctx context.Context, req Request) (*DispatchResult, error)
	FetchStatus(ctx context.Context, token string) (*Status, error)
}

// LyricsGenerator 支持歌词生成的供应商
type LyricsGenerator interface {
	GenerateLyrics(ctx context.Context, prompt string) (*Lyrics, error)
}

// Registry 已启用的供应商
type Registry map[Name]Adapter

// Get 获取供应商
func (r Registry) Get(name Name) (Adapter, bool) {
	a, ok := r[name]
	return a, ok
}

// Truncate 按字符截断
func Truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit]))
}

// JoinTags 拼接非空字段并截断到限制长度
func JoinTags(limit int, parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return Truncate(strings.Join(kept, ", "), limit)
}

// NeedsLyrics 人声且未提供歌词时需要先生成歌词
func NeedsLyrics(req Request) bool {
	return !req.Instrumental && strings.TrimSpace(req.Lyrics) == ""
}
