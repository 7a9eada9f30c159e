package provider

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrUnsafeURL 用户提供的下载地址不是 http(s)，或解析到了内网地址
var ErrUnsafeURL = errors.New("provider: url not allowed")

var carrierGradeNAT = net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// PublicIP 是否为公网单播地址
func PublicIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast() || ip.IsMulticast() {
		return false
	}
	if ip4 := ip.To4(); ip4 != nil && carrierGradeNAT.Contains(ip4) {
		return false
	}
	return true
}

// CheckFetchURL 只接受带主机名的 http(s) 地址
func CheckFetchURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return fmt.Errorf("%w: scheme %q", ErrUnsafeURL, u.Scheme)
	}
	return nil
}

// NewFetchClient 下载用户提供的外部资源，不带鉴权头。
// 地址检查放在拨号阶段，针对实际连接的 IP，重定向和 DNS 重绑定都绕不过去。
// allowPrivate 仅用于测试和内网部署。
func NewFetchClient(timeout time.Duration, allowPrivate bool) *resty.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	if !allowPrivate {
		dialer.Control = func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			if ip := net.ParseIP(host); ip == nil || !PublicIP(ip) {
				return fmt.Errorf("%w: %s", ErrUnsafeURL, host)
			}
			return nil
		}
	}

	// 不走代理，否则拨号检查只能看到代理地址
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
	return resty.New().
		SetTransport(transport).
		SetTimeout(timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(3))
}
