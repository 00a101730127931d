// Package crawler mirrors a web site into a content store.
//
// # Architecture
//
// A Collector owns one crawl instance of one site. It drains the persistent
// work queue of the store directory, claims each path for the instance,
// fetches it and saves the outcome. Fetched documents are run through the
// rewriter with a visit hook only: every link found in a document is added
// to the store and queued when it is new.
//
// # Components
//
//   - Collector: queue drain loop, fetch eligibility and outcome handlers
//   - Fetcher: the HTTP client interface, implemented by HTTPClient
//
// # Concurrency
//
// Fetches and saves run on a shared worker pool. A counter per category
// tracks in-flight tasks; the number of concurrent fetches is capped while
// saves are bounded by the pool size only. The drain loop ends when the queue
// is empty and neither counter has work.
//
// # Politeness
//
//   - robots.txt exclusions for the user agent's product token
//   - static exclusions and ignore patterns from the site configuration
//   - an optional request rate limit
//
// # Usage
//
//	c, err := crawler.New(start, st, site, crawler.WithMaxCrawlAge(time.Hour))
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//	modified, err := c.CrawlSite(ctx)
package crawler
