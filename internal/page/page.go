// Package page decides when to fetch older messages and where to
// re-anchor the scroll position after a prepend.
package page

// Pixel geometry of the message list. Heights are estimates; the
// anchor math only needs them to be consistent between calls.
const (
	PrefetchThresholdPx  = 100.0
	EstimatedMsgHeightPx = 70.0
)

// Paginator tracks the older-page state of one open thread.
type Paginator struct {
	pageSize    int
	loadedCount int
	total       *uint64
	inFlight    bool
	hasMore     bool
}

// New creates a paginator for a freshly opened thread.
func New(pageSize int) *Paginator {
	return &Paginator{pageSize: pageSize, hasMore: true}
}

// Reset clears all state, as when switching threads.
func (p *Paginator) Reset() {
	p.loadedCount = 0
	p.total = nil
	p.inFlight = false
	p.hasMore = true
}

// InFlight reports whether an older-page load is running.
func (p *Paginator) InFlight() bool { return p.inFlight }

// HasMore reports whether older messages remain.
func (p *Paginator) HasMore() bool { return p.hasMore }

// LoadedCount returns how many messages are currently held.
func (p *Paginator) LoadedCount() int { return p.loadedCount }

// NextRange returns the start and count of the next older page.
func (p *Paginator) NextRange() (start, count int32) {
	return int32(p.loadedCount), int32(p.pageSize)
}

// ShouldPrefetch reports whether a scroll position warrants loading an
// older page: near the top, more available, nothing in flight and
// something already on screen.
func (p *Paginator) ShouldPrefetch(offsetY float64) bool {
	return offsetY < PrefetchThresholdPx &&
		p.hasMore &&
		!p.inFlight &&
		p.loadedCount > 0
}

// InitialLoaded records the result of the opening page.
func (p *Paginator) InitialLoaded(count int, total *uint64) {
	p.loadedCount = count
	p.total = total
	p.inFlight = false
	p.updateHasMore(count)
}

// BeginLoad marks an older-page load as in flight. Returns false when
// one is already running; at most one load runs per thread.
func (p *Paginator) BeginLoad() bool {
	if p.inFlight {
		return false
	}
	p.inFlight = true
	return true
}

// CompleteLoad records a finished older-page load. prepended is how
// many messages were actually added after dedup.
func (p *Paginator) CompleteLoad(prepended int, total *uint64) {
	p.inFlight = false
	p.loadedCount += prepended
	if total != nil {
		p.total = total
	}
	p.updateHasMore(prepended)
}

// AbortLoad clears the in-flight flag without touching counters, as
// when a load errors out.
func (p *Paginator) AbortLoad() {
	p.inFlight = false
}

// updateHasMore applies the available-count rule: with a known total,
// compare against it; otherwise assume more while pages come back
// full.
func (p *Paginator) updateHasMore(batch int) {
	if p.total != nil {
		p.hasMore = uint64(p.loadedCount) < *p.total
		return
	}
	p.hasMore = batch >= p.pageSize
}

// AnchorAfterPrepend returns the relative scroll position (0..1) that
// keeps the viewport on the same message after prepending n older
// messages above it.
func AnchorAfterPrepend(oldOffsetY, oldContentHeight float64, prepended int) float64 {
	if prepended <= 0 || oldContentHeight <= 0 {
		if oldContentHeight <= 0 {
			return 0
		}
		return clamp01(oldOffsetY / oldContentHeight)
	}
	added := float64(prepended) * EstimatedMsgHeightPx
	return clamp01((oldOffsetY + added) / (oldContentHeight + added))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
