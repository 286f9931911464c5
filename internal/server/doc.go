// Package server hosts the Fiber HTTP service and its request middleware
// chain. Every non-diagnostics request is handed to a ProxyHandler, which in
// production forwards it through the offline cache worker; paths under /-/ are
// reserved for the worker and geo endpoints in the routes subpackage. The
// shared upstream http.Client and hop-by-hop header helpers live here too so
// proxy and routes agree on transport settings.
package server
