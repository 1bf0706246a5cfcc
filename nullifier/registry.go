package nullifier

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"sync"
	"time"

	"github.com/providenetwork/smt"
	"github.com/provideplatform/mixer/commitment"
	"github.com/provideplatform/mixer/common"
)

// Registry is the set of consumed nullifier hashes, accumulated in a sparse merkle tree
// so the registry state can be audited by root
type Registry struct {
	hash  hash.Hash
	mutex sync.Mutex
	tree  *smt.SparseMerkleTree
	count int
}

// NewRegistry initializes an empty registry
func NewRegistry() *Registry {
	h := sha256.New()
	return &Registry{
		hash: h,
		tree: smt.NewSparseMerkleTree(smt.NewSimpleMap(), smt.NewSimpleMap(), h),
	}
}

// Lookup returns the entry for the given hash; absent hashes are reported unused
func (r *Registry) Lookup(nullifierHash commitment.NullifierHash) (*Entry, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.lookup(nullifierHash)
}

func (r *Registry) lookup(nullifierHash commitment.NullifierHash) (*Entry, error) {
	val, err := r.tree.Get(nullifierHash[:])
	if err != nil {
		return nil, fmt.Errorf("failed to resolve nullifier %s; %s", nullifierHash, err.Error())
	}

	entry := &Entry{NullifierHash: nullifierHash}
	if len(val) == 0 {
		return entry, nil
	}

	consumedAt, err := decodeConsumedAt(val)
	if err != nil {
		return nil, err
	}
	entry.Used = true
	entry.ConsumedAt = &consumedAt
	return entry, nil
}

// Consume marks the nullifier hash used; a second consumption fails with ErrNullifierReused
func (r *Registry) Consume(nullifierHash commitment.NullifierHash, at time.Time) (*Entry, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	entry, err := r.lookup(nullifierHash)
	if err != nil {
		return nil, err
	}

	err = entry.Consume(at)
	if err != nil {
		return nil, err
	}

	root, err := r.tree.Update(nullifierHash[:], encodeConsumedAt(*entry.ConsumedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert nullifier %s; %s", nullifierHash, err.Error())
	}
	r.count++

	common.Log.Debugf("consumed nullifier %s; registry root: %s", nullifierHash, hex.EncodeToString(root))
	return entry, nil
}

// Contains verifies inclusion of the nullifier hash against the current root
func (r *Registry) Contains(nullifierHash commitment.NullifierHash) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	val, err := r.tree.Get(nullifierHash[:])
	if err != nil || len(val) == 0 {
		return false
	}

	proof, err := r.tree.Prove(nullifierHash[:])
	if err != nil {
		common.Log.Warningf("failed to generate merkle proof for nullifier %s; %s", nullifierHash, err.Error())
		return false
	}

	return smt.VerifyProof(proof, r.tree.Root(), nullifierHash[:], val, sha256.New())
}

// Root returns the hex-encoded registry root
func (r *Registry) Root() (*string, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	root := r.tree.Root()
	if len(root) == 0 {
		return nil, errors.New("registry does not contain a valid root")
	}
	return common.StringOrNil(hex.EncodeToString(root)), nil
}

// Count returns the number of consumed nullifiers
func (r *Registry) Count() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.count
}

func encodeConsumedAt(at time.Time) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(at.UnixNano()))
	return buf
}

func decodeConsumedAt(val []byte) (time.Time, error) {
	if len(val) != 8 {
		return time.Time{}, fmt.Errorf("malformed nullifier registry value of %d bytes", len(val))
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(val))).UTC(), nil
}
