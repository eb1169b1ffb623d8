// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the client configuration.
//
// Precedence is defaults, then the config file, then ZTC_* environment
// variables. Files are YAML (strict), TOML or JSON with comments, chosen by
// extension.
package config
