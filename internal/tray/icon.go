package tray

import _ "embed"

// Icon is the tray icon shown by the systray renderer.
//
//go:embed assets/icon.png
var Icon []byte
