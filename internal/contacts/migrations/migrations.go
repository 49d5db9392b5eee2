// Package migrations embeds the contact cache schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
