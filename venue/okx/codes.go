package okx

import "github.com/rustyeddy/executor/venue"

// mapCode translates an OKX v5 status code onto the error taxonomy.
// Unknown codes map to UNKNOWN_VENUE_ERROR, never dropped.
func mapCode(code string) venue.Kind {
	switch code {
	case "", "0":
		return ""
	case "50001", "50002", "50003":
		return venue.KindAuth
	case "50004", "50005":
		return venue.KindRateLimited
	case "51008", "51009":
		return venue.KindInsufficientFunds
	case "51001", "51002":
		return venue.KindInvalidInstrument
	case "51117", "51118":
		return venue.KindOrderNotFound
	default:
		return venue.KindUnknownVenue
	}
}
