// Package mureka 适配 Mureka 兼容 API。该供应商没有回调，只能轮询。
package mureka

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/qs3c/melody_go_server/config"
	"github.com/qs3c/melody_go_server/internal/provider"
)

const (
	promptLimit = 1024
	// 歌词接口的 prompt 同样受限
	lyricsPromptLimit        = 1024
	defaultMaxReferenceBytes = 20 << 20
)

// Options 构造参数
type Options struct {
	Config config.ProviderConfig
	Logger zerolog.Logger
	// AllowPrivateReferences 允许从内网地址下载参考音轨，生产环境保持关闭
	AllowPrivateReferences bool
	MaxReferenceBytes      int64
}

// Client Mureka 适配器
type Client struct {
	http         *resty.Client
	fetch        *resty.Client // 下载参考音轨
	maxReference int64
	model        string
	logger       zerolog.Logger
}

var (
	_ provider.Adapter         = (*Client)(nil)
	_ provider.LyricsGenerator = (*Client)(nil)
)

func New(opts Options) *Client {
	model := strings.TrimSpace(opts.Config.Model)
	if model == "" {
		model = "auto"
	}
	timeout := opts.Config.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxReference := opts.MaxReferenceBytes
	if maxReference <= 0 {
		maxReference = defaultMaxReferenceBytes
	}
	return &Client{
		http:         provider.NewHTTPClient(opts.Config),
		fetch:        provider.NewFetchClient(timeout, opts.AllowPrivateReferences),
		maxReference: maxReference,
		model:        model,
		logger:       opts.Logger.With().Str("provider", string(provider.Mureka)).Logger(),
	}
}

func (c *Client) Name() provider.Name {
	return provider.Mureka
}

// EncodeToken 歌曲与纯音乐使用不同的查询接口，token 中记录任务类型
func EncodeToken(kind, id string) string {
	return kind + "/" + id
}

// DecodeToken 解析 token，缺少前缀时按歌曲处理
func DecodeToken(token string) (kind, id string) {
	if i := strings.Index(token, "/"); i > 0 {
		switch token[:i] {
		case kindSong, kindInstrumental:
			return token[:i], token[i+1:]
		}
	}
	return kindSong, token
}

// Dispatch 人声走 song 接口（歌词必填，缺失时同步生成），纯音乐走 instrumental 接口
func (c *Client) Dispatch(ctx context.Context, req provider.Request) (*provider.DispatchResult, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	result := &provider.DispatchResult{Model: model}

	prompt := provider.JoinTags(promptLimit, req.Style, req.Prompt, strings.Join(req.Instruments, ", "))

	var referenceID string
	if strings.TrimSpace(req.ReferenceTrackURL) != "" {
		id, err := c.uploadReference(ctx, req.ReferenceTrackURL, req.Instrumental)
		if err != nil {
			return nil, err
		}
		referenceID = id
	}

	var (
		task taskResponse
		kind string
	)
	if req.Instrumental {
		kind = kindInstrumental
		body := instrumentalRequest{Model: model, ReferenceID: referenceID}
		// prompt 与参考音轨互斥
		if referenceID == "" {
			body.Prompt = prompt
		}
		if err := c.call(ctx, http.MethodPost, "/v1/instrumental/generate", body, &task); err != nil {
			return nil, err
		}
	} else {
		kind = kindSong
		lyrics := strings.TrimSpace(req.Lyrics)
		if lyrics == "" {
			generated, err := c.GenerateLyrics(ctx, lyricsPrompt(req))
			if err != nil {
				return nil, err
			}
			lyrics = generated.Text
			result.Lyrics = generated.Text
			result.LyricsTitle = generated.Title
		}
		body := songRequest{Lyrics: lyrics, Model: model, ReferenceID: referenceID}
		if referenceID == "" {
			body.Prompt = prompt
		}
		if err := c.call(ctx, http.MethodPost, "/v1/song/generate", body, &task); err != nil {
			return nil, err
		}
	}

	if task.ID == "" {
		return nil, provider.NewError(provider.Mureka, provider.KindDispatch, "response carried no task id")
	}
	if task.Model != "" {
		result.Model = task.Model
	}
	result.TaskID = EncodeToken(kind, task.ID)

	c.logger.Info().Str("job_id", req.JobID).Str("task_id", result.TaskID).Str("model", result.Model).
		Bool("reference", referenceID != "").Msg("mureka: task dispatched")
	return result, nil
}

func lyricsPrompt(req provider.Request) string {
	prompt := req.Prompt
	if req.Style != "" {
		prompt = fmt.Sprintf("%s (style: %s)", prompt, req.Style)
	}
	return provider.Truncate(prompt, lyricsPromptLimit)
}

// FetchStatus 查询任务
func (c *Client) FetchStatus(ctx context.Context, token string) (*provider.Status, error) {
	kind, id := DecodeToken(token)
	if id == "" {
		return nil, provider.NewError(provider.Mureka, provider.KindBadRequest, "empty task token")
	}
	var task taskResponse
	if err := c.call(ctx, http.MethodGet, "/v1/"+kind+"/query/"+id, nil, &task); err != nil {
		return nil, err
	}
	return toStatus(&task), nil
}

func toStatus(task *taskResponse) *provider.Status {
	switch task.Status {
	case statusSucceeded:
		for _, ch := range task.Choices {
			if r := choiceResult(ch); r.Usable() {
				return &provider.Status{State: provider.StateDone, Progress: 100, Result: r}
			}
		}
		return &provider.Status{
			State: provider.StateFailed,
			Err:   provider.NewError(provider.Mureka, provider.KindNoArtifact, "task succeeded without an audio url"),
		}
	case statusFailed:
		msg := task.FailedReason
		if msg == "" {
			msg = "generation failed"
		}
		kind := provider.KindGeneration
		if provider.IsPolicyMessage(msg) {
			kind = provider.KindContentPolicy
		}
		return &provider.Status{State: provider.StateFailed, Err: provider.NewError(provider.Mureka, kind, msg)}
	case statusTimeouted:
		return &provider.Status{State: provider.StateFailed, Err: provider.NewError(provider.Mureka, provider.KindTimeout, "provider timed out")}
	case statusCancelled:
		return &provider.Status{State: provider.StateFailed, Err: provider.NewError(provider.Mureka, provider.KindGeneration, "task cancelled by provider")}
	case statusStreaming:
		return &provider.Status{State: provider.StatePending, Progress: 80, Note: "streaming"}
	case statusRunning:
		return &provider.Status{State: provider.StatePending, Progress: 50, Note: "running"}
	case statusQueued:
		return &provider.Status{State: provider.StatePending, Progress: 15, Note: "queued"}
	default:
		return &provider.Status{State: provider.StatePending, Progress: 10, Note: statusPreparing}
	}
}

func choiceResult(ch choice) *provider.Result {
	audio := ch.URL
	if audio == "" {
		audio = ch.FlacURL
	}
	return &provider.Result{
		AudioURL: audio,
		Duration: float64(ch.Duration) / 1000,
		Lyrics:   ch.Lyrics,
		ClipID:   ch.ID,
	}
}

// GenerateLyrics 同步接口，直接返回歌词
func (c *Client) GenerateLyrics(ctx context.Context, prompt string) (*provider.Lyrics, error) {
	var resp lyricsResponse
	if err := c.call(ctx, http.MethodPost, "/v1/lyrics/generate", lyricsRequest{Prompt: prompt}, &resp); err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.Lyrics) == "" {
		return nil, provider.NewError(provider.Mureka, provider.KindGeneration, "lyrics response was empty")
	}
	return &provider.Lyrics{Title: resp.Title, Text: resp.Lyrics}, nil
}

// uploadReference 下载参考音轨后上传，返回文件 id
func (c *Client) uploadReference(ctx context.Context, url string, instrumental bool) (string, error) {
	data, err := c.downloadReference(ctx, url)
	if err != nil {
		return "", err
	}

	purpose := "reference"
	if instrumental {
		purpose = "instrumental"
	}
	filename := path.Base(strings.SplitN(url, "?", 2)[0])
	if filename == "" || filename == "." || filename == "/" {
		filename = "reference.mp3"
	}

	resp, err := c.http.R().SetContext(ctx).
		SetFileReader("file", filename, bytes.NewReader(data)).
		SetFormData(map[string]string{"purpose": purpose}).
		Post("/v1/files/upload")
	if err != nil {
		return "", provider.Normalize(provider.Mureka, err)
	}
	if resp.IsError() {
		return "", classify(resp)
	}
	var up uploadResponse
	if err := json.Unmarshal(resp.Body(), &up); err != nil || up.ID == "" {
		return "", &provider.Error{Provider: provider.Mureka, Kind: provider.KindServer, Message: "upload returned no file id", Err: err}
	}
	return up.ID, nil
}

// downloadReference 读取不超过 maxReference 字节；地址不安全时归为请求错误，不触发换供应商
func (c *Client) downloadReference(ctx context.Context, url string) ([]byte, error) {
	if err := provider.CheckFetchURL(url); err != nil {
		return nil, &provider.Error{Provider: provider.Mureka, Kind: provider.KindBadRequest, Message: "reference track url is not allowed", Err: err}
	}

	dl, err := c.fetch.R().SetContext(ctx).SetDoNotParseResponse(true).Get(url)
	if dl != nil && dl.RawBody() != nil {
		defer dl.RawBody().Close()
	}
	if err != nil {
		if errors.Is(err, provider.ErrUnsafeURL) {
			c.logger.Warn().Err(err).Msg("mureka: reference track address rejected")
			return nil, &provider.Error{Provider: provider.Mureka, Kind: provider.KindBadRequest, Message: "reference track url is not allowed", Err: err}
		}
		return nil, provider.Normalize(provider.Mureka, err)
	}
	if dl.IsError() {
		return nil, provider.NewError(provider.Mureka, provider.KindBadRequest,
			fmt.Sprintf("reference track unavailable (status %d)", dl.StatusCode()))
	}
	if dl.RawResponse != nil && dl.RawResponse.ContentLength > c.maxReference {
		return nil, provider.NewError(provider.Mureka, provider.KindBadRequest, "reference track is too large")
	}

	data, err := io.ReadAll(io.LimitReader(dl.RawBody(), c.maxReference+1))
	if err != nil {
		return nil, provider.Normalize(provider.Mureka, err)
	}
	if int64(len(data)) > c.maxReference {
		return nil, provider.NewError(provider.Mureka, provider.KindBadRequest, "reference track is too large")
	}
	if len(data) == 0 {
		return nil, provider.NewError(provider.Mureka, provider.KindBadRequest, "reference track is empty")
	}
	return data, nil
}

// call 发送 JSON 请求，Mureka 直接返回数据体，错误由 HTTP 状态码表示
func (c *Client) call(ctx context.Context, method, p string, body interface{}, out interface{}) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, p)
	if err != nil {
		return provider.Normalize(provider.Mureka, err)
	}
	if resp.IsError() {
		return classify(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &provider.Error{Provider: provider.Mureka, Kind: provider.KindServer, StatusCode: resp.StatusCode(),
			Message: "unparseable response", Err: err}
	}
	return nil
}

func classify(resp *resty.Response) *provider.Error {
	var body errorResponse
	msg := strings.TrimSpace(resp.Status())
	if json.Unmarshal(resp.Body(), &body) == nil && body.text() != "" {
		msg = body.text()
	}
	e := provider.ClassifyHTTP(provider.Mureka, resp.StatusCode(), msg)
	e.RetryAfter = provider.RetryAfter(resp)
	return e
}
