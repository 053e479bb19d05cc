// Package config manages settings stored at ~/.ocmodctl/config.yaml and
// OCMODCTL_* environment variables: where the host application lives, which
// database and settings backend to use, and how the server and the deploy
// client behave.
package config
