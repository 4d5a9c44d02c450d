package sourcecache

import (
	"context"
	"net/http"
	"net/url"
	"os"

	"github.com/cavaliergopher/grab/v3"

	"github.com/arch-repo-builder/arb/pkg/checksum"
	"github.com/arch-repo-builder/arb/pkg/errs"
	"github.com/arch-repo-builder/arb/pkg/logger"
	"github.com/arch-repo-builder/arb/pkg/shell"
)

const (
	maxAttemptsNoProxy = 3
	maxAttemptsProxy   = 2
)

var fetchLog = logger.WithComponent("sourcecache")

// fetchToTemp downloads src into a temporary file under dir and returns
// its path, retrying per the spec's proxy escalation policy: up to
// three attempts without a proxy, then (iff a checksum is declared, the
// protocol is HTTP(S), and a proxy is configured) up to two more through
// the proxy.
func fetchToTemp(ctx context.Context, src NetfileSource, dir, proxy string) (string, error) {
	attempt := 0
	lastErr := errs.New(errs.IO, "no fetch attempts made")

	for attempt < maxAttemptsNoProxy {
		attempt++

		path, err := fetchOnce(ctx, src, dir, "")
		if err == nil {
			return path, nil
		}

		lastErr = err
		fetchLog.Warn("netfile fetch attempt failed", "url", src.URL, "attempt", attempt, "error", err)
	}

	if !canUseProxy(src, proxy) {
		return "", lastErr
	}

	for i := 0; i < maxAttemptsProxy; i++ {
		attempt++

		path, err := fetchOnce(ctx, src, dir, proxy)
		if err == nil {
			return path, nil
		}

		lastErr = err
		fetchLog.Warn("proxied netfile fetch attempt failed",
			"url", src.URL, "attempt", attempt, "error", err)
	}

	return "", lastErr
}

func canUseProxy(src NetfileSource, proxy string) bool {
	if proxy == "" || !src.HasChecksum() {
		return false
	}

	return src.Protocol == ProtocolHTTP || src.Protocol == ProtocolHTTPS
}

func fetchOnce(ctx context.Context, src NetfileSource, dir, proxy string) (string, error) {
	switch src.Protocol {
	case ProtocolHTTP, ProtocolHTTPS, ProtocolFTP:
		return fetchGrab(ctx, src.URL, dir, proxy)
	case ProtocolRsync:
		return fetchExternal(ctx, dir, "rsync", src.URL)
	case ProtocolSCP:
		return fetchExternal(ctx, dir, "scp", src.URL)
	case ProtocolFile:
		return src.URL, nil
	default:
		return "", errs.Newf(errs.Config, "unsupported netfile protocol %q", src.Protocol)
	}
}

func fetchGrab(ctx context.Context, rawURL, dir, proxy string) (string, error) {
	client := grab.NewClient()

	if proxy != "" {
		transport := &http.Transport{}

		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return "", errs.Wrap(err, errs.Config, "parsing proxy URL")
		}

		transport.Proxy = http.ProxyURL(proxyURL)
		client.HTTPClient = &http.Client{Transport: transport}
	}

	req, err := grab.NewRequest(dir, rawURL)
	if err != nil {
		return "", errs.Wrap(err, errs.IO, "building download request")
	}

	req = req.WithContext(ctx)

	resp := client.Do(req)
	if err := resp.Err(); err != nil {
		return "", errs.Wrap(err, errs.IO, "downloading netfile source")
	}

	return resp.Filename, nil
}

// fetchExternal shells out to an external transfer tool (rsync, scp)
// the way makepkg itself does for these protocols, since neither grab
// nor go-git cover them.
func fetchExternal(ctx context.Context, dir, tool, rawURL string) (string, error) {
	dst := dir + string(os.PathSeparator) + "fetched"

	if err := shell.ExecWithContext(ctx, true, dir, tool, rawURL, dst); err != nil {
		return "", errs.Wrapf(err, errs.IO, "fetching via %s", tool)
	}

	return dst, nil
}

// verifyDigest recomputes path's checksum under kind and compares.
func verifyDigest(path string, kind checksum.Kind, expected []byte) (bool, error) {
	return checksum.Verify(path, kind, expected)
}
