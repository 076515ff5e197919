// Package browser runs batch-RPC requests inside an authenticated Chromium
// page through Playwright.
//
// The host application only accepts RPC calls that carry the browser's
// session cookies and a page-scoped CSRF token, so requests are issued with
// fetch() from within the page rather than from a Go HTTP client.
//
// # Architecture
//
// The package is built around three pieces:
//
//  1. Launcher: produces an isolated browser context and page (Handles)
//  2. Pool: a Launcher sharing one Chromium between many contexts, bounded
//  3. Transport: owns one page and executes requests on it, one at a time
//
// # Transport Lifecycle
//
// A Transport moves through Idle, Acquiring, Ready, InCall and Closed:
//
//  1. Open: acquire a context, inject cookies, navigate to the entry URL,
//     reject sign-in redirects, extract the CSRF token
//  2. Execute: run exactly one fetch and capture ok, status, statusText and text
//  3. Reload: re-inject cookies, navigate again and re-extract the token
//  4. Close: tear down page, context and (if owned) the browser and driver
//
// Close is idempotent and never returns teardown errors; they are logged.
//
// # Cancellation
//
// Execute honours its context. A deadline becomes the in-page AbortController
// timeout, and cancellation aborts the in-flight fetch by its call id.
package browser
