// Package testserver provides in-process fakes of the remote gallery and
// the local mirror server for package tests.
//
// Both fakes are chi routers served by httptest and keep their state in
// memory behind a mutex so tests can inspect what was requested and
// uploaded.
package testserver
