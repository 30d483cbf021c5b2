// livetts reads a live room's chat and gifts aloud and runs the signing
// proxy that the live feed client talks to.
//
// Usage:
//
//	# Speak chat and gifts for a room
//	USERNAME=streamer livetts listen
//
//	# Forward requests to the signing service with the server-side key
//	API_KEY=... livetts proxy
//
//	# Show version information
//	livetts version
package main

func main() {
	Execute()
}
