package sharding

import (
	"fmt"
	"hash/fnv"
	"sort"

	"gorm.io/gorm"
)

// ShardIDOffset is the multiplier that folds a shard id into a global row
// id. Local autoincrement ids must stay below it.
const ShardIDOffset int64 = 10_000_000_000_000

// Shard is one database partition. Shard ids start at 1 and are never
// reused once assigned.
type Shard struct {
	ID int64
	DB *gorm.DB
}

// GlobalID returns the cluster-wide id for a row with the given local id
// on this shard. Ids that are already global pass through unchanged.
func (s *Shard) GlobalID(localID int64) int64 {
	if localID >= ShardIDOffset {
		return localID
	}
	return s.ID*ShardIDOffset + localID
}

// SplitGlobalID decomposes a global id into (shardID, localID). Plain
// local ids are reported with shard id 0; the caller decides which shard
// those are relative to.
func SplitGlobalID(id int64) (shardID, localID int64) {
	if id < ShardIDOffset {
		return 0, id
	}
	return id / ShardIDOffset, id % ShardIDOffset
}

// Cluster routes lookups and writes to shards by explicit id. There is no
// ambient "current shard": callers always name the shard they want.
type Cluster struct {
	shards  []*Shard
	byID    map[int64]*Shard
	ordered []int64
}

// NewCluster builds a cluster from the given shards.
func NewCluster(shards []*Shard) (*Cluster, error) {
	if len(shards) == 0 {
		return nil, fmt.Errorf("cluster requires at least one shard")
	}
	byID := make(map[int64]*Shard, len(shards))
	ordered := make([]int64, 0, len(shards))
	for _, s := range shards {
		if s.ID <= 0 {
			return nil, fmt.Errorf("shard id must be positive, got %d", s.ID)
		}
		if _, dup := byID[s.ID]; dup {
			return nil, fmt.Errorf("duplicate shard id %d", s.ID)
		}
		byID[s.ID] = s
		ordered = append(ordered, s.ID)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })
	return &Cluster{shards: shards, byID: byID, ordered: ordered}, nil
}

// Shard returns the shard with the given id.
func (c *Cluster) Shard(id int64) (*Shard, error) {
	s, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("unknown shard %d", id)
	}
	return s, nil
}

// Shards returns all shards.
func (c *Cluster) Shards() []*Shard {
	return c.shards
}

// ShardFor returns the shard holding the row with the given global id.
// A plain local id resolves to the fallback shard.
func (c *Cluster) ShardFor(globalID int64, fallback *Shard) (*Shard, error) {
	shardID, _ := SplitGlobalID(globalID)
	if shardID == 0 {
		if fallback == nil {
			return nil, fmt.Errorf("id %d is not global and no fallback shard given", globalID)
		}
		return fallback, nil
	}
	return c.Shard(shardID)
}

// HomeShard returns the shard a user's own rows live on. Placement is a
// stable hash over the user id; the shard id list must not be reordered
// between deployments.
func (c *Cluster) HomeShard(userID int64) *Shard {
	return c.placeByKey(userID)
}

// ContextShard returns the shard owning a course/group/account context's
// rows. Contexts use the same stable-hash placement as users.
func (c *Cluster) ContextShard(contextID int64) *Shard {
	return c.placeByKey(contextID)
}

func (c *Cluster) placeByKey(key int64) *Shard {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d", key)
	idx := int(h.Sum64() % uint64(len(c.ordered)))
	return c.byID[c.ordered[idx]]
}
