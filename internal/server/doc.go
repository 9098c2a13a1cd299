// Package server hosts the Fiber HTTP service, request middleware chain, and
// origin registry glue that maps the request Host onto the public Origin
// before handing the request to the fetch handler. Diagnostics surfaces live
// in the routes subpackage and are attached by the caller.
package server
