package ports

// PreferenceStore is a synchronous key-value store for persisted preferences
type PreferenceStore interface {
	// Get returns the stored value, or an empty string if the key is unset
	Get(key string) (string, error)

	// Set stores value under key
	Set(key, value string) error
}
