// Package localstore is the client for the local mirror server.
//
// The server exposes three endpoints:
//
//	GET  /count   -> {"count": n}
//	POST /check   {"postIds": [...]} -> {"postIds": [...already stored...]}
//	POST /upload  multipart: id, image, tags (JSON array of {name, kind})
//
// Count and CheckExisting are idempotent reads and run through the shared
// retry.Transport. Upload is sent once; a non-200 answer is reported as
// an upload_rejected error and the caller decides what to do.
package localstore
