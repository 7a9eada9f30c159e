package service

import (
	"strings"
	"unicode/utf8"

	"github.com/qs3c/melody_go_server/internal/provider"
)

// SelectionInput 选择供应商所需的请求特征
type SelectionInput struct {
	Requested         provider.Name
	Instrumental      bool
	Prompt            string
	Instruments       []string
	ReferenceTrackURL string
}

// SelectorConfig 选择规则参数
type SelectorConfig struct {
	Default             provider.Name
	LongPromptThreshold int
	// Available 已配置凭据的供应商，按优先级排列；为空表示不限制
	Available []provider.Name
	Models    map[provider.Name]string
}

// Selection 选择结果
type Selection struct {
	Provider provider.Name
	Model    string
	Reason   string
}

// SelectProvider 纯函数，无 I/O。
// 显式指定的供应商原样返回；否则依次考虑编曲选项、长文本人声，最后落到默认供应商。
func SelectProvider(in SelectionInput, cfg SelectorConfig) Selection {
	if in.Requested != "" && in.Requested != provider.Auto {
		return Selection{Provider: in.Requested, Model: cfg.Models[in.Requested], Reason: "explicit"}
	}

	threshold := cfg.LongPromptThreshold
	if threshold <= 0 {
		threshold = 200
	}

	var (
		want   provider.Name
		reason string
	)
	switch {
	case len(in.Instruments) > 0 || strings.TrimSpace(in.ReferenceTrackURL) != "":
		// Mureka 支持参考音轨与乐器控制
		want, reason = provider.Mureka, "advanced instrumentation"
	case !in.Instrumental && utf8.RuneCountInString(strings.TrimSpace(in.Prompt)) > threshold:
		want, reason = provider.Suno, "long vocal prompt"
	default:
		want, reason = cfg.Default, "default"
		if want == "" || want == provider.Auto {
			want = provider.Mureka
		}
	}

	if !isAvailable(want, cfg.Available) {
		for _, alt := range cfg.Available {
			if alt != want {
				want, reason = alt, reason+" (preferred provider unavailable)"
				break
			}
		}
	}

	return Selection{Provider: want, Model: cfg.Models[want], Reason: reason}
}

// FallbackFor 返回尚未尝试过的可用供应商
func FallbackFor(current provider.Name, tried []string, available []provider.Name) (provider.Name, bool) {
	for _, alt := range available {
		if alt == current {
			continue
		}
		seen := false
		for _, t := range tried {
			if t == string(alt) {
				seen = true
				break
			}
		}
		if !seen {
			return alt, true
		}
	}
	return "", false
}

func isAvailable(name provider.Name, available []provider.Name) bool {
	if len(available) == 0 {
		return true
	}
	for _, a := range available {
		if a == name {
			return true
		}
	}
	return false
}
