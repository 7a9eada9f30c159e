// Package suno 适配 Suno 兼容 API：派发时注册回调地址（推送），同时支持 record-info 查询（拉取）。
package suno

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/qs3c/melody_go_server/config"
	"github.com/qs3c/melody_go_server/internal/provider"
)

const (
	titleLimit = 80
	// 歌词任务通常在一分钟内完成
	defaultLyricsPollInterval = 2 * time.Second
	defaultLyricsPollTimeout  = 90 * time.Second
)

// Options 构造参数
type Options struct {
	Config             config.ProviderConfig
	Logger             zerolog.Logger
	CallbackURL        string
	LyricsPollInterval time.Duration
	LyricsPollTimeout  time.Duration
}

// Client Suno 适配器
type Client struct {
	http               *resty.Client
	model              string
	callbackURL        string
	logger             zerolog.Logger
	lyricsPollInterval time.Duration
	lyricsPollTimeout  time.Duration
}

var (
	_ provider.Adapter         = (*Client)(nil)
	_ provider.LyricsGenerator = (*Client)(nil)
)

func New(opts Options) *Client {
	model := strings.TrimSpace(opts.Config.Model)
	if model == "" {
		model = "V4_5"
	}
	interval := opts.LyricsPollInterval
	if interval <= 0 {
		interval = defaultLyricsPollInterval
	}
	timeout := opts.LyricsPollTimeout
	if timeout <= 0 {
		timeout = defaultLyricsPollTimeout
	}
	return &Client{
		http:               provider.NewHTTPClient(opts.Config),
		model:              model,
		callbackURL:        opts.CallbackURL,
		logger:             opts.Logger.With().Str("provider", string(provider.Suno)).Logger(),
		lyricsPollInterval: interval,
		lyricsPollTimeout:  timeout,
	}
}

func (c *Client) Name() provider.Name {
	return provider.Suno
}

// limits 返回 (歌词, 风格) 长度上限，V4_5 之后的模型放宽
func limits(model string) (int, int) {
	if strings.HasPrefix(model, "V4_5") || strings.HasPrefix(model, "V5") {
		return 5000, 1000
	}
	return 3000, 200
}

// Dispatch 提交生成任务。人声且未提供歌词时先调用歌词接口。
func (c *Client) Dispatch(ctx context.Context, req provider.Request) (*provider.DispatchResult, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	lyricsLimit, styleLimit := limits(model)

	result := &provider.DispatchResult{Model: model}
	callbackURL := req.CallbackURL
	if callbackURL == "" {
		callbackURL = c.callbackURL
	}

	body := generateRequest{
		CustomMode:   true,
		Instrumental: req.Instrumental,
		Model:        model,
		Title:        provider.Truncate(req.Title, titleLimit),
		// 描述只进入风格字段，从不作为歌词
		Style:       provider.JoinTags(styleLimit, req.Style, req.Prompt, strings.Join(req.Instruments, ", ")),
		CallBackURL: callbackURL,
	}

	if !req.Instrumental {
		lyrics := strings.TrimSpace(req.Lyrics)
		if lyrics == "" {
			generated, err := c.generateLyrics(ctx, lyricsPrompt(req), callbackURL, req.OnLyricsTask)
			if err != nil {
				return nil, err
			}
			lyrics = generated.Text
			result.Lyrics = generated.Text
			result.LyricsTitle = generated.Title
			result.LyricsTaskID = generated.TaskID
			if body.Title == "" {
				body.Title = provider.Truncate(generated.Title, titleLimit)
			}
		}
		body.Prompt = provider.Truncate(lyrics, lyricsLimit)
	}

	var data taskData
	if err := c.call(ctx, http.MethodPost, "/api/v1/generate", body, nil, &data); err != nil {
		return nil, err
	}
	if data.TaskID == "" {
		return nil, provider.NewError(provider.Suno, provider.KindDispatch, "response carried no task id")
	}
	result.TaskID = data.TaskID

	c.logger.Info().Str("job_id", req.JobID).Str("task_id", data.TaskID).Str("model", model).
		Bool("instrumental", req.Instrumental).Msg("suno: task dispatched")
	return result, nil
}

func lyricsPrompt(req provider.Request) string {
	prompt := req.Prompt
	if req.Style != "" {
		prompt = fmt.Sprintf("%s (style: %s)", prompt, req.Style)
	}
	// 歌词接口的 prompt 上限为 200 字符
	return provider.Truncate(prompt, 200)
}

// FetchStatus 查询 record-info
func (c *Client) FetchStatus(ctx context.Context, token string) (*provider.Status, error) {
	var info recordInfo
	err := c.call(ctx, http.MethodGet, "/api/v1/generate/record-info", nil, map[string]string{"taskId": token}, &info)
	if err != nil {
		return nil, err
	}
	return toStatus(&info), nil
}

func toStatus(info *recordInfo) *provider.Status {
	switch info.Status {
	case statusSuccess:
		for _, clip := range info.Response.SunoData {
			if r := clipResult(clip); r.Usable() {
				return &provider.Status{State: provider.StateDone, Progress: 100, Result: r}
			}
		}
		return &provider.Status{
			State: provider.StateFailed,
			Err:   provider.NewError(provider.Suno, provider.KindNoArtifact, "task succeeded without an audio url"),
		}
	case statusTextSuccess:
		return &provider.Status{State: provider.StatePending, Progress: 60, Note: "lyrics ready"}
	case statusFirstSuccess:
		return &provider.Status{State: provider.StatePending, Progress: 80, Note: "first track ready"}
	case statusSensitiveWord:
		return &provider.Status{
			State: provider.StateFailed,
			Err:   provider.NewError(provider.Suno, provider.KindContentPolicy, info.ErrorMessage),
		}
	case statusCreateFailed, statusGenerateFailed, statusCallbackError, statusLyricsFailed:
		msg := info.ErrorMessage
		if msg == "" {
			msg = strings.ToLower(info.Status)
		}
		kind := provider.KindGeneration
		if provider.IsPolicyMessage(msg) {
			kind = provider.KindContentPolicy
		}
		return &provider.Status{State: provider.StateFailed, Err: provider.NewError(provider.Suno, kind, msg)}
	default:
		return &provider.Status{State: provider.StatePending, Progress: 10, Note: "queued"}
	}
}

func clipResult(clip sunoClip) *provider.Result {
	audio := clip.AudioURL
	if audio == "" {
		audio = clip.SourceAudioURL
	}
	return &provider.Result{
		Title:    clip.Title,
		AudioURL: audio,
		ImageURL: clip.ImageURL,
		Duration: clip.Duration,
		Lyrics:   clip.Prompt,
		ClipID:   clip.ID,
		Tags:     splitTags(clip.Tags),
	}
}

func splitTags(tags string) []string {
	var out []string
	for _, t := range strings.Split(tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// GenerateLyrics 提交歌词任务并等待结果
func (c *Client) GenerateLyrics(ctx context.Context, prompt string) (*provider.Lyrics, error) {
	return c.generateLyrics(ctx, prompt, c.callbackURL, nil)
}

// generateLyrics 歌词回调与音乐回调共用同一个地址，靠 task id 区分
func (c *Client) generateLyrics(ctx context.Context, prompt, callbackURL string, onTask func(context.Context, string)) (*provider.Lyrics, error) {
	var data taskData
	body := lyricsRequest{Prompt: prompt, CallBackURL: callbackURL}
	if err := c.call(ctx, http.MethodPost, "/api/v1/lyrics", body, nil, &data); err != nil {
		return nil, err
	}
	if data.TaskID == "" {
		return nil, provider.NewError(provider.Suno, provider.KindDispatch, "lyrics response carried no task id")
	}
	if onTask != nil {
		onTask(ctx, data.TaskID)
	}

	ctx, cancel := context.WithTimeout(ctx, c.lyricsPollTimeout)
	defer cancel()

	ticker := time.NewTicker(c.lyricsPollInterval)
	defer ticker.Stop()

	for {
		var info lyricsRecordInfo
		err := c.call(ctx, http.MethodGet, "/api/v1/lyrics/record-info", nil, map[string]string{"taskId": data.TaskID}, &info)
		if err != nil {
			pe := provider.Normalize(provider.Suno, err)
			if !pe.Retryable() {
				return nil, pe
			}
			c.logger.Warn().Err(err).Str("task_id", data.TaskID).Msg("suno: lyrics poll failed, retrying")
		} else {
			switch info.Status {
			case statusSuccess:
				for _, entry := range info.Response.Data {
					if strings.TrimSpace(entry.Text) != "" {
						return &provider.Lyrics{TaskID: data.TaskID, Title: entry.Title, Text: entry.Text}, nil
					}
				}
				return nil, provider.NewError(provider.Suno, provider.KindGeneration, "lyrics task returned no text")
			case statusSensitiveWord:
				return nil, provider.NewError(provider.Suno, provider.KindContentPolicy, info.ErrorMessage)
			case statusCreateFailed, statusLyricsFailed, statusCallbackError:
				return nil, provider.NewError(provider.Suno, provider.KindGeneration, "lyrics generation failed: "+info.ErrorMessage)
			}
		}

		select {
		case <-ctx.Done():
			return nil, &provider.Error{Provider: provider.Suno, Kind: provider.KindTransient, Message: "lyrics generation did not finish in time", Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

// call 发送请求并解析 {code,msg,data} 信封
func (c *Client) call(ctx context.Context, method, path string, body interface{}, query map[string]string, out interface{}) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if query != nil {
		req.SetQueryParams(query)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return provider.Normalize(provider.Suno, err)
	}

	var env envelope
	if jsonErr := json.Unmarshal(resp.Body(), &env); jsonErr != nil {
		if resp.IsError() {
			e := provider.ClassifyHTTP(provider.Suno, resp.StatusCode(), strings.TrimSpace(resp.Status()))
			e.RetryAfter = provider.RetryAfter(resp)
			return e
		}
		return &provider.Error{Provider: provider.Suno, Kind: provider.KindServer, StatusCode: resp.StatusCode(),
			Message: "unparseable response", Err: jsonErr}
	}

	if resp.IsError() {
		e := provider.ClassifyHTTP(provider.Suno, resp.StatusCode(), env.Msg)
		e.RetryAfter = provider.RetryAfter(resp)
		return e
	}
	if env.Code != envelopeSuccess {
		return codeError(env.Code, env.Msg)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &provider.Error{Provider: provider.Suno, Kind: provider.KindServer, Message: "unexpected data shape", Err: err}
	}
	return nil
}

// codeError 信封里的业务码。注意 Suno 用 429 表示余额不足，430 表示频率限制。
func codeError(code int, msg string) *provider.Error {
	e := &provider.Error{Provider: provider.Suno, StatusCode: code, Message: msg}
	switch {
	case code == 401:
		e.Kind = provider.KindAuth
	case code == 429:
		e.Kind = provider.KindInsufficientQuota
	case code == 405 || code == 430:
		e.Kind = provider.KindRateLimited
	case code == 400 || code == 413:
		e.Kind = provider.KindBadRequest
		if provider.IsPolicyMessage(msg) {
			e.Kind = provider.KindContentPolicy
		}
	case code == 455 || code >= 500:
		e.Kind = provider.KindServer
	default:
		e.Kind = provider.KindGeneration
	}
	return e
}
