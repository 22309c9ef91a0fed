package matching

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Identity is a resolved customer across connectors. Its sets only ever grow
// (merges are monotonic); shrinking requires an explicit split operation,
// which is out of scope.
type Identity struct {
	UniversalID string    `json:"universal_id"`
	TenantID    string    `json:"tenant_id"`
	PrimaryName string    `json:"primary_name"`
	Names       []string  `json:"names"`      // normalized
	Phones      []string  `json:"phones"`     // E.164
	Emails      []string  `json:"emails"`     // lowercased
	Addresses   []string  `json:"addresses"`  // normalized
	BusinessIDs map[string]string `json:"business_ids"` // kind -> normalized value
	Sources     map[string]string `json:"sources"`      // source-system -> local id
	Confidence  float64   `json:"confidence"`
	UpdatedAt   time.Time `json:"updated_at"`
	Verified    map[string]bool `json:"verified"` // identifier kind -> verified
}

// NewUniversalID derives the stable customer id from the primary name and
// ingestion timestamp: CUST_ plus the first 12 hex chars of the SHA-256.
func NewUniversalID(primaryName string, ingestedAt time.Time) string {
	sum := sha256.Sum256([]byte(primaryName + ingestedAt.UTC().Format(time.RFC3339Nano)))
	return "CUST_" + hex.EncodeToString(sum[:])[:12]
}

// addUnique appends value to set if absent, returning the (possibly grown)
// set. Keeps merge monotonicity cheap to reason about.
func addUnique(set []string, value string) []string {
	if value == "" {
		return set
	}
	for _, v := range set {
		if v == value {
			return set
		}
	}
	return append(set, value)
}

// absorb merges the attributes of other into i. Sets grow monotonically;
// nothing is removed. The primary name and universal id never change.
func (i *Identity) absorb(other *Identity) {
	for _, n := range other.Names {
		i.Names = addUnique(i.Names, n)
	}
	for _, p := range other.Phones {
		i.Phones = addUnique(i.Phones, p)
	}
	for _, e := range other.Emails {
		i.Emails = addUnique(i.Emails, e)
	}
	for _, a := range other.Addresses {
		i.Addresses = addUnique(i.Addresses, a)
	}
	for kind, v := range other.BusinessIDs {
		if _, ok := i.BusinessIDs[kind]; !ok {
			i.BusinessIDs[kind] = v
		}
	}
	for src, local := range other.Sources {
		if _, ok := i.Sources[src]; !ok {
			i.Sources[src] = local
		}
	}
	if other.Confidence > i.Confidence {
		i.Confidence = other.Confidence
	}
}

// unionFind maintains equivalence classes over identity ids so transitive
// merges collapse into a single representative without mutating absorbed
// records in place.
type unionFind struct {
	parent map[string]string
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[string]string)}
}

// find returns the representative for id, with path compression.
func (u *unionFind) find(id string) string {
	root, ok := u.parent[id]
	if !ok || root == id {
		return id
	}
	rep := u.find(root)
	u.parent[id] = rep
	return rep
}

// union merges the class of child into the class of parent.
func (u *unionFind) union(parent, child string) {
	pr, cr := u.find(parent), u.find(child)
	if pr != cr {
		u.parent[cr] = pr
	}
}
