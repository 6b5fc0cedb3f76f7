// Package mem provides memory allocation utilities for heap regions.
//
// # Aligned Allocation
//
// Heap regions are carved from one cache-line aligned allocation so block
// boundaries never straddle more lines than necessary.
package mem
