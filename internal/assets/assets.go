// Package assets embeds the static artwork shipped with the library.
package assets

import _ "embed"

// LogoPNG is the default cover-art image, served when a device reports no
// usable artwork URL.
//
//go:embed logo.png
var LogoPNG []byte
