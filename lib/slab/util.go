package slab

import (
	"sort"

	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/ValentinKolb/dSlab/lib/record"
)

// toAny converts a value map into the input form of record.Create and Record.Set.
func toAny(values map[string]record.Value) map[string]any {
	if values == nil {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

func sortIDs(ids []ident.RecordID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
