// Package cache defines the named, versioned response stores used by the
// offline worker. A store maps an exact request URL to a stored response
// (status, headers, body). Stores are enumerated and dropped as a whole when a
// new worker version activates, mirroring the browser Cache Storage API.
// Two backends exist: a disk layout (temp file + rename writes) and a SQLite
// table for deployments that prefer a single file.
package cache
