// Package installer moves the payload of an extension package into the host
// application's category roots, registers its manifest, runs its patches
// and undoes all of it when any step fails.
package installer
