// Package snapdir checks working directories into a content-addressable repository
// and checks them back out, byte for byte.
//
// A repository stores arbitrarily sized sequences of bytes,
// or _blobs_,
// and indexes them by their hash,
// which is used as a unique key.
// This key is called the blob's reference, or _ref_.
// Identical content is stored at most once,
// no matter how many files or revisions contain it.
//
// Checking in a working directory produces a _session_:
// an immutable, named snapshot listing every file in the tree
// together with the ref and size of its contents.
// Each commit of a session yields a new _revision_ number.
// Checking out a revision writes every file of its session back to disk.
//
// The ref is the MD5 hash of a blob,
// chosen because it is cheap to compute over a whole tree on every status query.
// For auditing,
// the checksum subpackage derives and caches a stronger SHA2-256 digest for any blob,
// re-verifying the MD5 ref each time the digest is computed.
//
// This package defines the data model and the Source contract
// that repositories implement (see the repo subpackages).
// The workdir subpackage binds a directory on disk to a repository,
// a session name, and a revision.
package snapdir
