/*
The sync package implements the mirror synchronization engine. It
maintains, for each configured mirror, a hardlinked shadow of a source
library's file tree at the mirror's target path.

There are two sides to each run:
 1. Source files -- the files of the host library being mirrored, possibly
    spread over several root paths.
 2. Mirror files -- hardlinks of the qualifying source files, laid out at
    the equivalent relative paths under the target.

A run snapshots both trees into signature maps (size + modification
time), diffs them, and applies the difference: missing or changed files
are (re-)hardlinked, files gone from the source are removed and their
now-empty parent directories pruned. Because hardlinks share inodes,
running the diff twice with no source changes is a no-op.

Only files are synced. Empty directories don't carry media and are never
created on their own, which also lets removals prune cleanly.
*/
package sync
