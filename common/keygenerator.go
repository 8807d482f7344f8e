package common

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// KeyType - Type of key
type KeyType int

const (
	// RandI64Type -- random 64 bit int
	RandI64Type KeyType = 1
	// OrderedI64Type - monotonically increasing 64 bit int.
	OrderedI64Type KeyType = 2
	// RandStrType - random string.
	RandStrType KeyType = 3
	// OrderedStrType - string with an ordered int suffix.
	OrderedStrType KeyType = 4
)

var keyTypeNames = map[string]KeyType{
	"rand-int":    RandI64Type,
	"ordered-int": OrderedI64Type,
	"rand-str":    RandStrType,
	"ordered-str": OrderedStrType,
}

// ParseKeyType -- maps a key type name used on the command line to a KeyType.
func ParseKeyType(name string) (KeyType, error) {
	if kt, ok := keyTypeNames[name]; ok {
		return kt, nil
	}
	return 0, fmt.Errorf("unknown key type %q", name)
}

const randKeyAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// KeyGenerator -- produces load keys. Safe for concurrent use; the ordered
// types never repeat a key within one generator.
type KeyGenerator struct {
	mu  sync.Mutex
	rnd *rand.Rand
	seq atomic.Int64
}

// NewKeyGenerator -- a generator whose random keys are drawn from seed.
func NewKeyGenerator(seed int64) *KeyGenerator {
	return &KeyGenerator{rnd: rand.New(rand.NewSource(seed))}
}

var defaultKeyGenerator = NewKeyGenerator(time.Now().UnixNano())

// Generate -- a key of type kt from the process-wide generator.
func Generate(kt KeyType, pfx string) []byte {
	return defaultKeyGenerator.Generate(kt, pfx)
}

// Generate -- nil for an unknown type.
func (g *KeyGenerator) Generate(kt KeyType, pfx string) []byte {
	switch kt {
	case RandI64Type:
		g.mu.Lock()
		v := g.rnd.Int63()
		g.mu.Unlock()
		return Int64Key(v)
	case OrderedI64Type:
		return Int64Key(g.seq.Add(1))
	case RandStrType:
		return []byte(pfx + "_" + g.randString(16))
	case OrderedStrType:
		// Zero padding keeps byte order equal to numeric order.
		return []byte(fmt.Sprintf("%s.key_%010d", pfx, g.seq.Add(1)))
	}
	return nil
}

func (g *KeyGenerator) randString(n int) string {
	b := make([]byte, n)
	g.mu.Lock()
	for i := range b {
		b[i] = randKeyAlphabet[g.rnd.Intn(len(randKeyAlphabet))]
	}
	g.mu.Unlock()
	return string(b)
}

// Int64Key -- big endian encoding of v, so byte order matches numeric order
// for non-negative values.
func Int64Key(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}
