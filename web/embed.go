// Package web embeds the server-rendered HTML templates.
package web

import "embed"

// FS holds the embedded templates directory.
//
//go:embed templates/*.html
var FS embed.FS
