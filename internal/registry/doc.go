// Package registry defines the records the installer persists and the
// collaborator interfaces through which it reaches the host's extension,
// modification and settings tables. Implementations live in package store.
package registry
