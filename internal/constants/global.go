package constants

const AppName = "blockcache"

// Protocol header names shared between the range proxy and its clients.
const (
	ProtocolRequestIDKey   = "X-Request-ID"
	ProtocolCacheStatusKey = "X-Cache"
)
