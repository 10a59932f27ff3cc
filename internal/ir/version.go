package ir

// Version constants for recorded data and the server.
const (
	// WireVersion is the version of the transmission envelope.
	WireVersion = 1

	// SnapshotVersion is the version of the scenarios.dat header.
	SnapshotVersion = 1

	// ServerVersion is the plancast server version.
	ServerVersion = "0.3.0"
)
