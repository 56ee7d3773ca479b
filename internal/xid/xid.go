package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

// New returns a sortable text id for movements and financial records.
func New(prefix string) string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// UUID is used for customers and users.
func UUID() string {
	return uuid.NewString()
}

// SaleIDs issues time-ordered int64 sale ids. Safe for concurrent use.
type SaleIDs struct {
	node *snowflake.Node
}

func NewSaleIDs(node int64) (*SaleIDs, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", node, err)
	}
	return &SaleIDs{node: n}, nil
}

func (g *SaleIDs) Next() int64 {
	return g.node.Generate().Int64()
}
