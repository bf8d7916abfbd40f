// Package models defines flow identifiers to avoid circular imports.
package models

// Flow identifiers for the storefront conversations.
const (
	// FlowMenu presents the product menu.
	FlowMenu = "menu"
	// FlowMusicUSB sells music-loaded USB drives.
	FlowMusicUSB = "musicUsb"
	// FlowMoviesUSB sells movie-loaded USB drives.
	FlowMoviesUSB = "moviesUsb"
	// FlowSeriesUSB sells series-loaded USB drives.
	FlowSeriesUSB = "seriesUsb"
	// FlowGamesUSB sells retro-game USB drives.
	FlowGamesUSB = "gamesUsb"
	// FlowCheckout collects shipping and payment details.
	FlowCheckout = "checkout"
	// FlowSupport hands off to a human agent.
	FlowSupport = "support"
)

// IsUSBFlow reports whether the flow belongs to the USB product family.
// USB flows are sticky: mid-customization messages rarely mean a change of
// product, so the router resists rerouting away from them.
func IsUSBFlow(flowID string) bool {
	switch flowID {
	case FlowMusicUSB, FlowMoviesUSB, FlowSeriesUSB, FlowGamesUSB:
		return true
	default:
		return false
	}
}
