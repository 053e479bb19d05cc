// Package manifest parses and validates install.xml package manifests and
// registers them: the modification record, the inferred extension and the
// default settings they declare.
package manifest
