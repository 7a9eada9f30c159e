package service

import "errors"

var (
	ErrValidation          = errors.New("请求参数无效")
	ErrJobNotFound         = errors.New("任务不存在")
	ErrJobPermission       = errors.New("无权访问此任务")
	ErrJobFinished         = errors.New("任务已结束")
	ErrCorrelationNotFound = errors.New("回调无法关联到任务")
	ErrQuotaExceeded       = errors.New("今日配额已用完")
	ErrNoProvider          = errors.New("没有可用的生成服务")
)
