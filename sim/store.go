package sim

//go:generate mockgen -source store.go -destination mock_store.go -package sim -write_package_comment=false

// A Store is the injected string-keyed persistence mapping. The orchestrator
// reads and writes opaque per-block state values and a global last-stop
// timestamp, and prunes keys that no longer correspond to any enabled
// block. Store failures are best-effort: they are logged, never fatal.
type Store interface {
	// Get returns the value stored under key and whether it exists.
	Get(key string) (string, bool, error)

	// Put stores a value under key, replacing any previous one.
	Put(key, value string) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(key string) error

	// Keys lists all stored keys.
	Keys() ([]string, error)
}

// StopTimeKey is the store key of the circuit's last stop timestamp.
const StopTimeKey = "ladder-stop-time"
