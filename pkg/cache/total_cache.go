package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// TotalCountKey identifies a count query. The rendered SQL already carries
// the filters, so two grids with the same filters share an entry.
type TotalCountKey struct {
	Table string        `json:"table"`
	SQL   string        `json:"sql"`
	Args  []interface{} `json:"args"`
}

// Key returns "grid_total:<sha256>" for k
func (k TotalCountKey) Key() string {
	data, err := json.Marshal(k)
	if err != nil {
		data = []byte(fmt.Sprintf("%s|%s|%v", k.Table, k.SQL, k.Args))
	}
	sum := sha256.Sum256(data)
	return "grid_total:" + hex.EncodeToString(sum[:])
}

// TableTag is the tag every cached total of table is stored under, so a
// delete can drop them all at once.
func TableTag(table string) string {
	return "grid_table:" + table
}

// CachedTotal is the stored form of a total count
type CachedTotal struct {
	Total int `json:"total"`
}
