// Package crawler implements the polling crawl engine: the scheduler that
// fetches the seed page on an interval, the worker pool that drains the
// frontier, and the per-item pipeline that fetches an item with its comments
// and hands the result to a Persister.
//
// Concrete fetchers, scanners, frontiers and persisters live in sibling
// packages and are injected through the interfaces declared here.
package crawler
