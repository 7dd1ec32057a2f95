// Package configs embeds the configuration template written by
// `amansearch config init`.
//
// The template documents every key with its default. Keys left commented
// out keep the built-in value (see internal/config NewConfig).
package configs

import _ "embed"

// ConfigTemplate is written to ~/.config/amansearch/config.yaml, or to
// .amansearch.yaml with --project.
//
//go:embed config.example.yaml
var ConfigTemplate string
