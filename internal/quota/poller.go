package quota

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/accountsched/sdk/sched/quotaguard"
)

const (
	defaultPollInterval  = 3 * time.Minute
	maxConcurrentFetches = 5
)

// Poller periodically refreshes the guard cache for every known account so
// preflight checks mostly hit a warm cache instead of fetching inline.
type Poller struct {
	cache          *quotaguard.Cache
	fetch          quotaguard.FetchFunc
	list           func() []int
	interval       time.Duration
	maxConcurrency int
}

// NewPoller constructs a poller. list supplies the account indices to
// refresh on each cycle.
func NewPoller(cache *quotaguard.Cache, fetch quotaguard.FetchFunc, list func() []int) *Poller {
	if cache == nil || fetch == nil || list == nil {
		return nil
	}
	return &Poller{
		cache:          cache,
		fetch:          fetch,
		list:           list,
		interval:       defaultPollInterval,
		maxConcurrency: maxConcurrentFetches,
	}
}

// SetInterval overrides the polling interval.
func (p *Poller) SetInterval(interval time.Duration) {
	if p == nil || interval <= 0 {
		return
	}
	p.interval = interval
}

// Start launches the polling loop in a background goroutine.
func (p *Poller) Start(ctx context.Context) {
	if p == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go p.run(ctx)
	log.Infof("quota poller started (interval=%s)", p.interval)
}

func (p *Poller) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.poll(ctx)
		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	indices := p.list()
	if len(indices) == 0 {
		return
	}
	sem := make(chan struct{}, p.maxConcurrency)
	var wg sync.WaitGroup
	for _, index := range indices {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		}
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			defer func() { <-sem }()
			summary, errFetch := p.fetch(ctx, index)
			if errFetch != nil {
				log.WithError(errFetch).Warnf("quota poller: fetch failed (account=%d)", index)
				return
			}
			if summary == nil {
				return
			}
			p.cache.Set(index, *summary)
		}(index)
	}
	wg.Wait()
}
