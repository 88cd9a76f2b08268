// Package lslab implements slab.IService on top of a single in-process slab.
package lslab
