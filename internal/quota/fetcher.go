// Package quota implements the quota-fetch collaborator: an HTTP fetcher
// that turns provider quota payloads into per-group summaries, and a
// background poller that keeps the guard cache warm.
package quota

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/router-for-me/accountsched/internal/registry"
	"github.com/router-for-me/accountsched/sdk/sched/quotaguard"
)

const defaultRequestTimeout = 20 * time.Second

// RequestBuilder constructs the authenticated quota request for an account.
// Supplied by the credential-owning collaborator; the fetcher never sees
// tokens directly.
type RequestBuilder func(ctx context.Context, accountIndex int) (*http.Request, error)

// Fetcher retrieves quota summaries over HTTP.
type Fetcher struct {
	client         *http.Client
	build          RequestBuilder
	groups         *registry.Groups
	requestTimeout time.Duration
}

// NewFetcher constructs a Fetcher. A nil client falls back to
// http.DefaultClient; nil groups fall back to the stock pools.
func NewFetcher(client *http.Client, build RequestBuilder, groups *registry.Groups) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if groups == nil {
		groups = registry.Default()
	}
	return &Fetcher{
		client:         client,
		build:          build,
		groups:         groups,
		requestTimeout: defaultRequestTimeout,
	}
}

// Fetch implements quotaguard.FetchFunc.
func (f *Fetcher) Fetch(ctx context.Context, accountIndex int) (*quotaguard.Summary, error) {
	if f == nil || f.build == nil {
		return nil, errors.New("quota fetcher: not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	reqCtx, cancel := context.WithTimeout(ctx, f.requestTimeout)
	defer cancel()

	req, errReq := f.build(reqCtx, accountIndex)
	if errReq != nil {
		return nil, errReq
	}
	resp, errResp := f.client.Do(req)
	if errResp != nil {
		return nil, errResp
	}
	defer func() { _ = resp.Body.Close() }()

	payload, errRead := io.ReadAll(resp.Body)
	if errRead != nil {
		return nil, errRead
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("quota fetcher: status=%d (account=%d)", resp.StatusCode, accountIndex)
	}

	summary := ExtractSummary(payload, f.groups)
	if summary == nil {
		return nil, nil
	}
	return summary, nil
}

// ExtractSummary parses a provider quota payload of the form
//
//	{"models": {"<name>": {"quotaInfo": {"remainingFraction": 0.42}}, ...}}
//
// and aggregates it per quota group. Within a group the minimum reported
// fraction wins, since the pool is shared. Returns nil when the payload
// carries no models.
func ExtractSummary(payload []byte, groups *registry.Groups) *quotaguard.Summary {
	if groups == nil {
		groups = registry.Default()
	}
	models := gjson.GetBytes(payload, "models")
	if !models.Exists() || !models.IsObject() {
		return nil
	}

	out := &quotaguard.Summary{Groups: make(map[string]quotaguard.GroupQuota)}
	models.ForEach(func(key, value gjson.Result) bool {
		name := value.Get("model").String()
		if name == "" {
			name = key.String()
		}
		group := groups.GroupID(name)
		if group == "" {
			return true
		}

		entry := out.Groups[group]
		entry.ModelCount++
		if remaining := value.Get("quotaInfo.remainingFraction"); remaining.Exists() {
			fraction := clampFraction(remaining.Float())
			if entry.RemainingFraction == nil || fraction < *entry.RemainingFraction {
				entry.RemainingFraction = &fraction
			}
		}
		out.Groups[group] = entry
		out.ModelCount++
		return true
	})

	if out.ModelCount == 0 {
		return nil
	}
	return out
}

func clampFraction(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
