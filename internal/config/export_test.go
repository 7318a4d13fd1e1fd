package config

// SetHostname replaces host name lookup for tests.
// Params: fn replacement lookup.
// Returns: restore function.
func SetHostname(fn func() (string, error)) func() {
	prev := hostname
	hostname = fn
	return func() {
		hostname = prev
	}
}
