package restaurant

import "strings"

// Key is the merge key used to reconcile observations of the same restaurant.
// A place id always wins; otherwise the (name, address) pair is used.
type Key string

const (
	placePrefix = "place:"
	namePrefix  = "name:"
	keySep      = "\x1f"
)

// KeyFor computes the merge key from its parts.
func KeyFor(placeID, name, address string) Key {
	if id := strings.TrimSpace(placeID); id != "" {
		return Key(placePrefix + id)
	}
	return Key(namePrefix + name + keySep + address)
}

// HasPlaceID reports whether the key was derived from a place id.
func (k Key) HasPlaceID() bool {
	return strings.HasPrefix(string(k), placePrefix)
}

func (k Key) String() string {
	return string(k)
}
