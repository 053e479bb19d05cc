// Package deploy pulls a package built by a GitHub Actions workflow and
// installs it when the tracked branch has moved.
//
// A run is a fixed sequence of gates: the caller's secret, a per-host
// cooldown, the repository settings, the tip commit of the branch. Only when
// the tip differs from the last deployed commit (or the caller forces it)
// does the orchestrator download the artifact, unwrap the package zip from
// it and hand that to the installer. Every outcome past the tip lookup is
// written back to the settings group as a log record.
package deploy
