// Package worker implements the offline cache worker that fronts the Kuryecini
// backend. A Worker owns one version-named cache store; it precaches the app
// shell on install, prunes older stores on activation and answers every
// intercepted GET with a per-resource-class strategy (network-first for API
// and pages, cache-first for static assets) so the app keeps working while the
// backend is unreachable.
//
// Registration tracks the active and waiting versions and hands out per-request
// leases, which is how a new version waits for the old one to drain before it
// takes control. The remaining browser worker events (message, push,
// notificationclick, sync) are plain methods on Worker.
package worker
