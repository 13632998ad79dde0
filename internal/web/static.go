package web

import (
	"embed"
)

// staticFiles holds the embedded status page.
//
//go:embed static/*
var staticFiles embed.FS
