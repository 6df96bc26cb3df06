// Package config loads grove runtime configuration.
//
// Configuration files are written in CUE and unified with the embedded
// #Config schema, which supplies defaults and rejects unknown fields and
// out-of-range values. A loaded Config converts into engine options, a
// logger and, when configured, an open snapshot archive.
package config
