// Package branding holds product identity shared by user-facing surfaces.
package branding

// AppName is the product name shown in notifications and offline pages.
const AppName = "Titan Fleet"

// DefaultIcon is the notification icon used when a push omits one.
const DefaultIcon = "/icons/icon-192x192.png"
