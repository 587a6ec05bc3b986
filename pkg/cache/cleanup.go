package cache

import "time"

// armCleanup starts the adaptive cleanup scheduler: a single timer that
// reschedules itself after every fire, rather than a fixed-rate ticker.
// Caller must not hold c.mu.
func (c *Cache) armCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduleNextLocked()
}

// rescheduleCleanup recomputes and re-arms the cleanup timer. Called after
// every set and after each cleanup pass; removals and MarkAsStaleByPattern
// do not re-arm it.
func (c *Cache) rescheduleCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.cleanupTimer != nil {
		c.cleanupTimer.Stop()
	}
	c.scheduleNextLocked()
}

// scheduleNextLocked arms c.cleanupTimer with an adaptive delay: the
// soonest fetchedAt+cacheTime among live entries plus a 60s
// buffer, clamped to [1min, shortestCacheTime/2]; every 30min when empty;
// otherwise shortestCacheTime/4 clamped to [5min, 30min]. Caller must hold
// c.mu.
func (c *Cache) scheduleNextLocked() {
	delay := c.nextDelayLocked()
	c.nextCleanupAtLocked = time.Now().Add(delay)
	c.cleanupTimer = time.AfterFunc(delay, c.fireCleanup)
}

func (c *Cache) nextDelayLocked() time.Duration {
	if c.list.Len() == 0 {
		return cleanupEmptyPeriod
	}

	now := time.Now()
	var shortestCacheTime time.Duration
	var soonestExpiry time.Duration = -1

	for e := c.list.Front(); e != nil; e = e.Next() {
		entry := e.Value.(*element).entry
		if shortestCacheTime == 0 || entry.CacheTime < shortestCacheTime {
			shortestCacheTime = entry.CacheTime
		}
		untilExpiry := entry.CacheTime - now.Sub(entry.FetchedAt)
		if soonestExpiry == -1 || untilExpiry < soonestExpiry {
			soonestExpiry = untilExpiry
		}
	}

	if shortestCacheTime <= 0 {
		return clamp(cleanupFallbackMin, cleanupFallbackMin, cleanupFallbackMax)
	}

	candidate := soonestExpiry + cleanupBuffer
	return clamp(candidate, cleanupMinInterval, shortestCacheTime/2)
}

func clamp(d, min, max time.Duration) time.Duration {
	if max < min {
		max = min
	}
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

// fireCleanup runs one cleanup pass and reschedules. Expired entries are
// removed before any concurrent Get can observe them, so a substitute
// fixed-period scan would be observably equivalent.
func (c *Cache) fireCleanup() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.Cleanup()
	c.rescheduleCleanup()
}
