// Package bioacq is a data acquisition pipeline for bioactivity and
// bibliographic datasets. It harvests records from public registries
// (ChEMBL for activities, Crossref for work metadata), normalizes them to
// versioned schemas, and publishes quality-checked CSV artifacts with
// deterministic content hashes.
//
// # Architecture
//
// The pipeline is assembled from small, injectable components:
//
//   - pkg/ratelimit: token-bucket admission with a global ceiling across
//     all sources and an independent ceiling per source.
//   - pkg/clients: a resilient HTTP client with retries, Retry-After
//     handling, and a per-source circuit breaker.
//   - pkg/pagination: cursor and page-number strategies that drain
//     multi-page listings with cross-page deduplication.
//   - pkg/schema: schema descriptors, a version registry, and an acyclic
//     migration graph with shortest-path resolution.
//   - pkg/hash: canonical serialization and SHA-256 digests for business
//     keys and full rows.
//   - pkg/qc: per-column quality metrics with a severity-gated failure
//     policy.
//   - pkg/output: atomic artifact publication, CSV and YAML writers.
//
// internal/pipeline orchestrates one run per source: fetch, migrate,
// validate, hash, profile, publish. cmd/bioacq is the CLI entry point.
//
// # Quick Start
//
//	bioacq run --config config.yaml
//
// runs acquisition for every enabled source and writes the dataset, a
// per-column quality report, and a metadata sidecar with file checksums
// into the configured output directory.
package bioacq
