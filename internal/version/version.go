/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version exposes build version information.
package version

// Version is the current version of Backline.
// This is set at build time via ldflags:
//
//	-X github.com/backlinehq/backline/internal/version.Version=X.Y.Z
var Version = "0.4.1"
