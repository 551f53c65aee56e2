// Package crawler defines the core types shared by the site crawler: jobs,
// budgets, page results, the tagged fetch outcome, the error taxonomy, URL
// canonicalization, markup extraction, and the domain-parking heuristics.
package crawler
