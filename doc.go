// Package starrocks implements the read path of a columnar storage engine:
// immutable segment files with compressed column pages, per-page zone maps
// and a sparse short-key index, plus a predicate compiler that turns SQL
// conjuncts into storage filters, enumerated short-key scan ranges and
// residual expressions.
//
// The top-level Scanner ties the pieces together: it compiles conjuncts once
// per scan, opens segments concurrently, prunes provably-empty segments
// without touching their data pages, and streams the surviving rows.
//
// The subpackages are usable on their own: segment reads and writes the file
// format, scan compiles predicates, shortkey implements the sparse index
// encoding, and blobstore abstracts local, in-memory and object storage.
package starrocks
