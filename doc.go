// Package splists is a resilient client for SharePoint-style REST/OData list
// services (the /_api/web/lists surface):
//
//   - Retries with exponential backoff + jitter, honouring Retry-After
//   - One-shot bearer token refresh on 401
//   - Pagination that drains odata.nextLink / __next continuation links
//   - Multipart $batch requests with order-preserving results
//   - Optimistic concurrency (If-Match) with a single ETag repair on 412
//   - Idempotent list and field provisioning from typed field schemas
//   - Prometheus metrics and slog-based structured debug logging
//
// Typical usage:
//
//	client, err := splists.New("https://contoso.sharepoint.com/sites/records", tokenFunc,
//	    splists.WithMaxAttempts(4),
//	    splists.WithRetryObserver(func(m splists.RetryMeta) { log.Println(m.Reason, m.Delay) }),
//	)
//	list := splists.ResolveList(os.Getenv("RECORDS_LIST"), "Records")
//	items, err := client.ListItems(ctx, list.ItemsPath(), splists.Query{Top: 500})
//
// Token acquisition is delegated to the TokenFunc callback and the transport to
// a Doer (*http.Client by default); tokencache.New wraps a fetcher into a
// TokenFunc that reuses JWTs until they near expiry. Configuration is passed explicitly through
// options; see the config package for TOML and environment loading.
package splists
