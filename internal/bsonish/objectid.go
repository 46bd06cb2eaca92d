package bsonish

import (
	"encoding/binary"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ObjectID is a 12-byte identifier: 4-byte seconds-since-epoch, 5 bytes of
// process-random entropy (seeded from a UUID so two processes never collide
// the way a bare math/rand seed could), and a 3-byte atomic counter that
// disambiguates IDs minted within the same second by this process.
type ObjectID [12]byte

var processRandom = func() [5]byte {
	var r [5]byte
	u := uuid.New()
	copy(r[:], u[:5])
	return r
}()

var objectIDCounter uint32

// NewObjectID mints a fresh, time-ordered ObjectID.
func NewObjectID() ObjectID {
	var id ObjectID
	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	copy(id[4:9], processRandom[:])

	c := atomic.AddUint32(&objectIDCounter, 1) & 0x00FFFFFF
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)

	return id
}

func (id ObjectID) String() string {
	return hex.EncodeToString(id[:])
}

// Compare gives a total order on ObjectIDs equal to byte-wise comparison,
// which in turn is time-then-entropy-then-counter order.
func (id ObjectID) Compare(other ObjectID) int {
	for i := range id {
		if id[i] != other[i] {
			if id[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
