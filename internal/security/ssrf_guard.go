package security

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// SSRFGuardService はSSRF防止機能のインターフェースを定義する。
// ユーザーサービスへの外向きリクエストで使用される。
type SSRFGuardService interface {
	// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
	// safeurlにより、プライベートIP、ループバック、リンクローカル、
	// メタデータIPへの接続がDNS解決後に拒否される。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateBaseURL は設定されたベースURLを起動時に静的に検証する。
	ValidateBaseURL(rawURL string) error
}

// allowedSchemes は外向きリクエストで許可されるURLスキーム。
var allowedSchemes = []string{"http", "https"}

// allowedPorts は外向きリクエストで許可されるポート。
var allowedPorts = []int{80, 443}

// blockedPrefixes はValidateBaseURLで拒否するアドレス範囲。
// 接続時の検証はsafeurlのDialerが行う。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),     // RFC 1918
	netip.MustParsePrefix("172.16.0.0/12"),  // RFC 1918
	netip.MustParsePrefix("192.168.0.0/16"), // RFC 1918
	netip.MustParsePrefix("127.0.0.0/8"),    // ループバック
	netip.MustParsePrefix("169.254.0.0/16"), // リンクローカル（169.254.169.254を含む）
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("fc00::/7"),
}

// ErrUnsafeURL はベースURLが外向きリクエストの条件を満たさないことを示す。
var ErrUnsafeURL = errors.New("unsafe base URL")

// SSRFGuard はSSRFGuardServiceの実装。
type SSRFGuard struct{}

// NewSSRFGuard はSSRFGuardの新しいインスタンスを生成する。
func NewSSRFGuard() *SSRFGuard {
	return &SSRFGuard{}
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// timeoutはhttp.Client.Timeoutとして設定され、接続からボディ読み取りまでを含む。
func (g *SSRFGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(allowedPorts...).
		Build()

	return safeurl.Client(config).Client
}

// ValidateBaseURL はベースURLを検証する。
// DNS解決は行わないため、名前解決後のアドレスはNewSafeClientの接続時に検証される。
func (g *SSRFGuard) ValidateBaseURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: empty", ErrUnsafeURL)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: disallowed scheme %q (allowed: %v)", ErrUnsafeURL, parsed.Scheme, allowedSchemes)
	}
	if parsed.User != nil {
		return fmt.Errorf("%w: userinfo is not allowed", ErrUnsafeURL)
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return fmt.Errorf("%w: query and fragment are not allowed", ErrUnsafeURL)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: empty host in %s", ErrUnsafeURL, rawURL)
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("%w: blocked host %s", ErrUnsafeURL, host)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlockedAddr(addr) {
			return fmt.Errorf("%w: blocked IP address %s", ErrUnsafeURL, addr)
		}
	}

	return nil
}

// isBlockedAddr はアドレスが拒否対象の範囲に含まれるかを返す。
func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
